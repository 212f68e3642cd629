package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewDonationID returns the primary identifier for a donation record.
func NewDonationID() string {
	return uuid.NewString()
}

// NewReceiptNumber generates the receipt string sent to the gateway as the
// order receipt. Kept short: Razorpay caps receipts at 40 characters.
func NewReceiptNumber() string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("GOM-%s-%s", time.Now().Format("20060102"), short)
}
