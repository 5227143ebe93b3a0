package events

import "time"

type BookingCreated struct {
	BookingID  string    `json:"booking_id"`
	ListingID  string    `json:"listing_id"`
	RenterID   string    `json:"renter_id"`
	CustomerID string    `json:"customer_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	TotalPrice float64   `json:"total_price"`
}

type BookingStatusChanged struct {
	BookingID string `json:"booking_id"`
	ListingID string `json:"listing_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// BookingPayment covers both booking.paid and booking.settled.
type BookingPayment struct {
	BookingID     string `json:"booking_id"`
	PaymentStatus string `json:"payment_status"`
	PaymentMethod string `json:"payment_method,omitempty"`
	PaymentRef    string `json:"payment_ref,omitempty"`
}

type ReviewCreated struct {
	ReviewID  string `json:"review_id"`
	BookingID string `json:"booking_id"`
	ListingID string `json:"listing_id"`
	Rating    int    `json:"rating"`
	// Nil when the listing aggregate could not be recomputed.
	AvgRating   *float64 `json:"avg_rating,omitempty"`
	ReviewCount *int64   `json:"review_count,omitempty"`
}

type SweepCompleted struct {
	BookingsCompleted int64     `json:"bookings_completed"`
	ListingsFreed     int64     `json:"listings_freed"`
	RanAt             time.Time `json:"ran_at"`
	Errors            []string  `json:"errors,omitempty"`
}
