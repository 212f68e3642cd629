package models

import (
	"time"

	"gorm.io/datatypes"
)

// Donation statuses. PENDING is the only non-terminal state; CANCELLED is
// client-reported and may still be overridden by an authoritative gateway
// signal (webhook/verify/poll). COMPLETED may only move to REFUNDED.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
	StatusRefunded  = "REFUNDED"
)

// Donation types are an open enumeration; the backend stores them opaquely.
const (
	DonationTypeIndividual = "individual"
	DonationTypeFamily     = "family"
	DonationTypeAdoptCow   = "adopt-cow"
	DonationTypeFeedFodder = "feed-fodder"
	DonationTypeCustom     = "custom"
)

// Donation is one donation attempt, tracked from creation to its terminal
// payment outcome. Amount is always the base currency unit (rupees); the
// gateway's paise value exists only at the adapter boundary.
type Donation struct {
	ID           string  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Amount       float64 `gorm:"type:decimal(12,2);not null" json:"amount"`
	DonationType string  `gorm:"type:varchar(50);not null;default:'individual'" json:"donation_type"`

	DonorName  string `gorm:"type:varchar(120);not null" json:"donor_name"`
	DonorEmail string `gorm:"type:varchar(191);not null;index" json:"donor_email"`
	DonorPhone string `gorm:"type:varchar(20)" json:"donor_phone,omitempty"`
	// Free-form address block (street/city/state/pincode/country).
	DonorAddress datatypes.JSON `gorm:"type:jsonb" json:"donor_address,omitempty"`

	Status    string  `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	OrderID   string  `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_id"`
	PaymentID *string `gorm:"type:varchar(64);index" json:"payment_id,omitempty"`
	ReceiptNo string  `gorm:"type:varchar(64);not null;uniqueIndex" json:"receipt_no"`

	// Gateway metadata envelopes. PaymentDetails is merged shallowly on every
	// update, never replaced wholesale. RefundDetails is set only when a
	// refund has been initiated.
	PaymentDetails datatypes.JSON `gorm:"type:jsonb" json:"payment_details,omitempty"`
	RefundDetails  datatypes.JSON `gorm:"type:jsonb" json:"refund_details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Donation) TableName() string {
	return "donations"
}

// IsTerminal reports whether no further automatic transition is expected.
// CANCELLED is advisory-terminal: authoritative gateway signals may still
// override it, which callers express through the CAS "from" set.
func (d *Donation) IsTerminal() bool {
	switch d.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}
