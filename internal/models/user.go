package models

import (
	"time"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleRenter   Role = "renter"
)

func (r Role) IsValid() bool {
	return r == RoleCustomer || r == RoleRenter
}

// ApprovalStatus gates whether a renter's listings can be booked.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) IsValid() bool {
	return s == ApprovalPending || s == ApprovalApproved || s == ApprovalRejected
}

// User represents a user in the system.
type User struct {
	Base           `bson:",inline"`
	Username       string         `bson:"username" json:"username"`
	Email          string         `bson:"email" json:"email"`
	PasswordHash   string         `bson:"password" json:"-"` // Store hash, not plaintext
	Role           Role           `bson:"role" json:"role"`
	ApprovalStatus ApprovalStatus `bson:"approval_status" json:"approval_status"`
	IsAdmin        bool           `bson:"is_admin" json:"is_admin"`
	UpdatedAt      time.Time      `bson:"updated_at" json:"updated_at"`
	CreatedAt      time.Time      `bson:"created_at" json:"created_at"`
}

// CanHostBookings reports whether the user's listings are bookable.
func (u *User) CanHostBookings() bool {
	return u.Role == RoleRenter && u.ApprovalStatus == ApprovalApproved
}
