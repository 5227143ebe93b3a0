package models

import (
	"time"

	"rentmarket/api/internal/utils"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Review is a customer's rating of a completed booking. At most one per (booking, customer).
type Review struct {
	Base             `bson:",inline"`
	BookingID        utils.SixID `bson:"booking_id" json:"booking_id"`
	ListingID        utils.SixID `bson:"listing_id" json:"listing_id"`
	RenterID         utils.SixID `bson:"renter_id" json:"renter_id"`
	CustomerID       utils.SixID `bson:"customer_id" json:"customer_id"`
	CustomerUsername string      `bson:"customer_username" json:"customer_username"`
	Rating           int         `bson:"rating" json:"rating"`
	Comment          string      `bson:"comment,omitempty" json:"comment,omitempty"`
	CreatedAt        time.Time   `bson:"created_at" json:"created_at"`
}
