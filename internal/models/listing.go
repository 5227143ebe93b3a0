package models

import (
	"time"

	"rentmarket/api/internal/utils"
)

type Category string

const (
	CategoryVehicles    Category = "vehicles"
	CategoryElectronics Category = "electronics"
	CategoryTools       Category = "tools"
	CategoryProperty    Category = "property"
	CategoryEquipment   Category = "equipment"
	CategoryServices    Category = "services"
	CategoryOther       Category = "other"
)

var validCategories = map[Category]bool{
	CategoryVehicles:    true,
	CategoryElectronics: true,
	CategoryTools:       true,
	CategoryProperty:    true,
	CategoryEquipment:   true,
	CategoryServices:    true,
	CategoryOther:       true,
}

func (c Category) IsValid() bool {
	return validCategories[c]
}

// ListingStatus is the availability state of a listing.
type ListingStatus string

const (
	ListingAvailable   ListingStatus = "available"
	ListingBooked      ListingStatus = "booked"
	ListingUnavailable ListingStatus = "unavailable"
)

func (s ListingStatus) IsValid() bool {
	return s == ListingAvailable || s == ListingBooked || s == ListingUnavailable
}

type Location struct {
	District string `bson:"district" json:"district"`
	City     string `bson:"city" json:"city"`
}

// Pricing holds the optional rate tiers of a listing.
type Pricing struct {
	Hourly  *float64 `bson:"hourly,omitempty" json:"hourly,omitempty"`
	Daily   *float64 `bson:"daily,omitempty" json:"daily,omitempty"`
	Monthly *float64 `bson:"monthly,omitempty" json:"monthly,omitempty"`
}

// Listing represents a rentable item or service.
type Listing struct {
	Base          `bson:",inline"`
	Name          string        `bson:"name" json:"name"`
	Description   string        `bson:"description" json:"description"`
	Category      Category      `bson:"category" json:"category"`
	Location      Location      `bson:"location" json:"location"`
	OwnerID       utils.SixID   `bson:"owner_id" json:"owner_id"`
	OwnerUsername string        `bson:"owner_username" json:"owner_username"` // Denormalized for display
	Pricing       Pricing       `bson:"pricing" json:"pricing"`
	PricePerDay   *float64      `bson:"price_per_day,omitempty" json:"price_per_day,omitempty"` // Legacy flat rate
	Images        []string      `bson:"images" json:"images"`                                   // S3 keys
	Status        ListingStatus `bson:"status,omitempty" json:"status"`
	BookedFrom    *time.Time    `bson:"booked_from,omitempty" json:"booked_from,omitempty"`
	BookedUntil   *time.Time    `bson:"booked_until,omitempty" json:"booked_until,omitempty"`
	Views         int64         `bson:"views" json:"views"`
	BookingsCount int64         `bson:"bookings_count" json:"bookings_count"`
	AvgRating     float64       `bson:"avg_rating" json:"avg_rating"`
	ReviewCount   int64         `bson:"review_count" json:"review_count"`
	IsActive      bool          `bson:"is_active" json:"is_active"`
	Timestamps    `bson:",inline"`
}

// IsAvailable reports whether the listing accepts new bookings. Records without
// a status predate the field and count as available.
func (l *Listing) IsAvailable() bool {
	return l.Status == "" || l.Status == ListingAvailable
}

// HasValidPricing reports whether at least one tier (or the legacy rate) is
// positive and none is negative.
func (l *Listing) HasValidPricing() bool {
	positive := false
	for _, v := range []*float64{l.Pricing.Hourly, l.Pricing.Daily, l.Pricing.Monthly, l.PricePerDay} {
		if v == nil {
			continue
		}
		if *v < 0 {
			return false
		}
		if *v > 0 {
			positive = true
		}
	}
	return positive
}
