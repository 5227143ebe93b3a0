package models

import (
	"time"

	"rentmarket/api/internal/utils"
)

type BookingType string

const (
	BookingHourly  BookingType = "hourly"
	BookingDaily   BookingType = "daily"
	BookingMonthly BookingType = "monthly"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "Pending"
	BookingConfirmed BookingStatus = "Confirmed"
	BookingCancelled BookingStatus = "Cancelled"
	BookingCompleted BookingStatus = "Completed"
)

func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingCancelled || s == BookingCompleted
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCompleted, BookingCancelled},
}

// CanTransition reports whether from -> to is in the booking state machine.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OverlapStatuses are the statuses that hold a claim on a listing's calendar.
var OverlapStatuses = []BookingStatus{BookingPending, BookingConfirmed}

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "Unpaid"
	PaymentPaid    PaymentStatus = "Paid"
	PaymentSettled PaymentStatus = "Settled"
)

// Booking is a time-bounded reservation of a listing by a customer.
type Booking struct {
	Base             `bson:",inline"`
	ListingID        utils.SixID   `bson:"listing_id" json:"listing_id"`
	RenterID         utils.SixID   `bson:"renter_id" json:"renter_id"` // Listing owner
	RenterUsername   string        `bson:"renter_username" json:"renter_username"`
	CustomerID       utils.SixID   `bson:"customer_id" json:"customer_id"`
	CustomerUsername string        `bson:"customer_username" json:"customer_username"`
	StartDate        time.Time     `bson:"start_date" json:"start_date"`
	EndDate          time.Time     `bson:"end_date" json:"end_date"`
	BookingType      BookingType   `bson:"booking_type" json:"booking_type"`
	TotalPrice       float64       `bson:"total_price" json:"total_price"`
	Status           BookingStatus `bson:"status" json:"status"`
	PaymentStatus    PaymentStatus `bson:"payment_status" json:"payment_status"`
	PaymentMethod    string        `bson:"payment_method,omitempty" json:"payment_method,omitempty"`
	PaymentRef       string        `bson:"payment_ref,omitempty" json:"payment_ref,omitempty"`
	PaidAt           *time.Time    `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	SettledAt        *time.Time    `bson:"settled_at,omitempty" json:"settled_at,omitempty"`
	Timestamps       `bson:",inline"`
}

// Overlaps applies the inclusive range test against [start, end].
func (b *Booking) Overlaps(start, end time.Time) bool {
	return !b.StartDate.After(end) && !b.EndDate.Before(start)
}
