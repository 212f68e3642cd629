package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shikerigoshala/gomantabackend-sub000/gateway"
	"github.com/shikerigoshala/gomantabackend-sub000/models"
	"github.com/shikerigoshala/gomantabackend-sub000/store"
	"github.com/shikerigoshala/gomantabackend-sub000/utils"

	"gorm.io/datatypes"
)

// DonationStore is the persistence contract the reconciliation core needs.
// Implemented by store.Store.
type DonationStore interface {
	Create(d *models.Donation) error
	GetByID(id string) (*models.Donation, error)
	GetByOrderID(orderID string) (*models.Donation, error)
	GetByPaymentID(paymentID string) (*models.Donation, error)
	TransitionStatus(id string, from []string, to string, upd store.StatusUpdate) (bool, *models.Donation, error)
	MergeRefundDetails(id string, details map[string]interface{}) error
	ListStalePending(cutoff time.Time) ([]models.Donation, error)
}

// PaymentGateway is the payment-provider contract. Implemented by
// gateway.Client. Amounts cross this boundary in rupees; the adapter owns
// the paise conversion.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountRupees float64, receipt string, notes map[string]interface{}) (*gateway.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
	FetchPaymentsForOrder(ctx context.Context, orderID string) ([]gateway.Payment, error)
	Refund(ctx context.Context, paymentID string, amountRupees float64, notes map[string]interface{}) (*gateway.Refund, error)
	VerifyWebhookSignature(body []byte, signature string) bool
	VerifyCheckoutSignature(orderID, paymentID, signature string) bool
}

// Notifier sends transactional mail. Failures are logged, never propagated:
// donation correctness does not depend on email delivery.
type Notifier interface {
	SendThankYou(donorEmail, donorName, receiptNo string, amount float64) error
	SendAdminNotification(receiptNo, donorName, donorEmail string, amount float64) error
}

// Statuses a verified gateway signal may transition away from. CANCELLED is
// included: a client-reported cancel carries no authority against the
// gateway's own report (the donor may have paid after dismissing the modal).
var fromAuthoritative = []string{models.StatusPending, models.StatusCancelled}

// Service reconciles asynchronous payment-status reports (verify call,
// webhook, status poll) against stored donations. Status monotonicity is
// enforced by the store's conditional transitions, not by any ordering
// assumption between the three entry points.
type Service struct {
	store    DonationStore
	gw       PaymentGateway
	notifier Notifier

	// SyncNotify makes notification delivery synchronous. Off in production
	// (mail must not sit on the request path); tests turn it on.
	SyncNotify bool
}

func New(st DonationStore, gw PaymentGateway, n Notifier) *Service {
	return &Service{store: st, gw: gw, notifier: n}
}

// DonorInfo is the donor block captured by the donation form.
type DonorInfo struct {
	Name    string
	Email   string
	Phone   string
	Address map[string]string
}

// CreateDonationAndOrder validates the input, creates the gateway order and
// then the local PENDING donation linked by the order id. On gateway failure
// nothing is persisted (fail closed). On a persistence failure after a
// successful order the error is an OrphanedOrderError and the condition is
// logged for manual reconciliation. The order is never re-created.
func (s *Service) CreateDonationAndOrder(ctx context.Context, amount float64, donor DonorInfo, donationType string) (*models.Donation, *gateway.Order, error) {
	if amount <= 0 {
		return nil, nil, validationf("amount must be greater than zero")
	}
	if donor.Name == "" {
		return nil, nil, validationf("donor name is required")
	}
	if donor.Email == "" {
		return nil, nil, validationf("donor email is required")
	}
	if donationType == "" {
		donationType = models.DonationTypeIndividual
	}

	email := utils.NormalizeEmail(donor.Email)
	receipt := utils.NewReceiptNumber()

	order, err := s.gw.CreateOrder(ctx, amount, receipt, map[string]interface{}{
		"donation_type": donationType,
		"donor_name":    donor.Name,
		"donor_email":   email,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrAmountBelowMinimum) {
			return nil, nil, validationf("minimum donation amount is Rs. 1")
		}
		return nil, nil, err
	}

	donation := &models.Donation{
		ID:             utils.NewDonationID(),
		Amount:         amount,
		DonationType:   donationType,
		DonorName:      donor.Name,
		DonorEmail:     email,
		DonorPhone:     donor.Phone,
		DonorAddress:   toJSON(donor.Address),
		Status:         models.StatusPending,
		OrderID:        order.ID,
		ReceiptNo:      receipt,
		PaymentDetails: toJSON(map[string]interface{}{"order": order.Raw}),
	}
	if err := s.store.Create(donation); err != nil {
		log.Printf("[reconcile] orphaned order: order_id=%s receipt=%s amount=%.2f persist error: %v",
			order.ID, receipt, amount, err)
		return nil, order, &OrphanedOrderError{OrderID: order.ID, Err: err}
	}
	return donation, order, nil
}

// VerifyAndFinalizePayment handles the client's post-checkout verify call.
// Either donationID or orderID may serve as the correlation key. When a
// checkout signature is supplied it is verified against the key secret
// before anything else. The gateway's own payment record decides the
// outcome; an already-terminal donation is returned unchanged.
func (s *Service) VerifyAndFinalizePayment(ctx context.Context, paymentID, orderID, donationID, signature string) (*models.Donation, error) {
	if paymentID == "" {
		return nil, validationf("paymentId is required")
	}
	if signature != "" && orderID != "" {
		if !s.gw.VerifyCheckoutSignature(orderID, paymentID, signature) {
			return nil, ErrAuthentication
		}
	}

	d, err := s.lookup(donationID, orderID)
	if err != nil {
		return nil, err
	}
	if settled(d.Status) {
		return d, nil
	}

	p, err := s.gw.FetchPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return s.applyPaymentOutcome(d, p)
}

// PollAndSyncStatus backs the client "check my payment status" flow. Safe to
// call in a tight polling loop: the idempotency guard is status-based, so
// repeated calls after settlement are plain reads with no side effects.
func (s *Service) PollAndSyncStatus(ctx context.Context, orderID string) (*models.Donation, error) {
	d, err := s.lookup(orderID, orderID)
	if err != nil {
		return nil, err
	}
	if settled(d.Status) {
		return d, nil
	}

	var p *gateway.Payment
	if pid := utils.GetStringValue(d.PaymentID); pid != "" {
		p, err = s.gw.FetchPayment(ctx, pid)
		if err != nil {
			return nil, err
		}
	} else {
		payments, err := s.gw.FetchPaymentsForOrder(ctx, d.OrderID)
		if err != nil {
			return nil, err
		}
		p = pickDecisive(payments)
		if p == nil {
			// Nothing attempted yet; still pending.
			return d, nil
		}
	}
	return s.applyPaymentOutcome(d, p)
}

// webhookEvent is the envelope Razorpay posts. Entities are kept as open
// maps: the gateway adds fields over time and we merge them into
// payment_details untouched.
type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity map[string]interface{} `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity map[string]interface{} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// HandleWebhookEvent verifies the signature against the raw body before any
// parsing, then dispatches on event type. Events referencing unknown orders
// or payments are logged and acknowledged: Razorpay retries on non-2xx and
// an unmatched event must not retry forever.
func (s *Service) HandleWebhookEvent(ctx context.Context, rawBody []byte, signature string) error {
	if !s.gw.VerifyWebhookSignature(rawBody, signature) {
		return ErrAuthentication
	}

	var ev webhookEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		log.Printf("[reconcile] webhook: unparseable body after valid signature: %v", err)
		return nil
	}

	switch ev.Event {
	case "payment.captured":
		return s.webhookPaymentCaptured(ev.Payload.Payment.Entity)
	case "payment.failed":
		return s.webhookPaymentFailed(ev.Payload.Payment.Entity)
	case "refund.processed":
		return s.webhookRefundProcessed(ev.Payload.Refund.Entity)
	default:
		log.Printf("[reconcile] webhook: ignoring event %q", ev.Event)
		return nil
	}
}

func (s *Service) webhookPaymentCaptured(entity map[string]interface{}) error {
	orderID, _ := entity["order_id"].(string)
	paymentID, _ := entity["id"].(string)
	d, err := s.store.GetByOrderID(orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[reconcile] webhook: payment.captured for unknown order %q, acknowledging", orderID)
			return nil
		}
		return err
	}

	applied, updated, err := s.store.TransitionStatus(d.ID, fromAuthoritative, models.StatusCompleted, store.StatusUpdate{
		PaymentID: paymentID,
		MergeDetails: map[string]interface{}{
			"captured": true,
			"payment":  entity,
			"method":   entity["method"],
		},
	})
	if err != nil {
		return err
	}
	if applied {
		s.notifyCompleted(updated)
	} else {
		log.Printf("[reconcile] webhook: payment.captured no-op, donation %s already %s", d.ID, d.Status)
	}
	return nil
}

func (s *Service) webhookPaymentFailed(entity map[string]interface{}) error {
	orderID, _ := entity["order_id"].(string)
	paymentID, _ := entity["id"].(string)
	d, err := s.store.GetByOrderID(orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[reconcile] webhook: payment.failed for unknown order %q, acknowledging", orderID)
			return nil
		}
		return err
	}

	applied, _, err := s.store.TransitionStatus(d.ID, fromAuthoritative, models.StatusFailed, store.StatusUpdate{
		PaymentID: paymentID,
		MergeDetails: map[string]interface{}{
			"captured":          false,
			"payment":           entity,
			"error_code":        entity["error_code"],
			"error_description": entity["error_description"],
		},
	})
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("[reconcile] webhook: payment.failed no-op, donation %s already %s", d.ID, d.Status)
	}
	return nil
}

func (s *Service) webhookRefundProcessed(entity map[string]interface{}) error {
	paymentID, _ := entity["payment_id"].(string)
	refundID, _ := entity["id"].(string)
	d, err := s.store.GetByPaymentID(paymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[reconcile] webhook: refund.processed for unknown payment %q, acknowledging", paymentID)
			return nil
		}
		return err
	}

	details := map[string]interface{}{
		"refund_id": refundID,
		"refund":    entity,
		"status":    entity["status"],
	}
	if d.Status != models.StatusCompleted {
		// Refund reported against a donation we never saw complete. Keep the
		// metadata, log the inconsistency, do not force an invalid transition.
		log.Printf("[reconcile] webhook: refund.processed for donation %s in state %s, recording metadata only", d.ID, d.Status)
		return s.store.MergeRefundDetails(d.ID, details)
	}

	applied, _, err := s.store.TransitionStatus(d.ID, []string{models.StatusCompleted}, models.StatusRefunded, store.StatusUpdate{
		RefundDetails: details,
	})
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("[reconcile] webhook: refund.processed no-op for donation %s", d.ID)
	}
	return nil
}

// InitiateRefund refunds a completed donation (fully or partially) on behalf
// of an authenticated admin. On gateway failure the donation is untouched;
// no partial refund state is recorded.
func (s *Service) InitiateRefund(ctx context.Context, donationID string, amount float64, reason, actor string) (*gateway.Refund, *models.Donation, error) {
	d, err := s.store.GetByID(donationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	if d.Status != models.StatusCompleted {
		return nil, nil, validationf("donation %s is %s; only completed donations can be refunded", d.ID, d.Status)
	}
	if amount <= 0 || amount > d.Amount {
		return nil, nil, validationf("refund amount must be between 0 and %.2f", d.Amount)
	}
	if d.PaymentID == nil || *d.PaymentID == "" {
		return nil, nil, fmt.Errorf("donation %s is completed but has no payment id", d.ID)
	}

	refund, err := s.gw.Refund(ctx, *d.PaymentID, amount, map[string]interface{}{
		"reason":       reason,
		"initiated_by": actor,
		"receipt_no":   d.ReceiptNo,
	})
	if err != nil {
		return nil, d, err
	}

	applied, updated, err := s.store.TransitionStatus(d.ID, []string{models.StatusCompleted}, models.StatusRefunded, store.StatusUpdate{
		RefundDetails: map[string]interface{}{
			"refund_id":    refund.ID,
			"amount":       amount,
			"reason":       reason,
			"initiated_by": actor,
			"status":       refund.Status,
			"initiated_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return refund, d, err
	}
	if !applied {
		log.Printf("[reconcile] refund %s processed but donation %s left %s by a racing transition", refund.ID, d.ID, d.Status)
	}
	return refund, updated, nil
}

// Cancel records a client-reported checkout abort. Advisory only: it can
// move PENDING to CANCELLED and nothing else, so it can never regress a
// settled donation, and a later authoritative signal may still override it.
func (s *Service) Cancel(ctx context.Context, donationID, reason string) (*models.Donation, error) {
	d, err := s.lookup(donationID, donationID)
	if err != nil {
		return nil, err
	}
	applied, updated, err := s.store.TransitionStatus(d.ID, []string{models.StatusPending}, models.StatusCancelled, store.StatusUpdate{
		MergeDetails: map[string]interface{}{"cancel_reason": reason, "cancelled_by": "client"},
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		log.Printf("[reconcile] cancel no-op, donation %s is %s", d.ID, d.Status)
		return d, nil
	}
	return updated, nil
}

// ExpireStalePending sweeps PENDING donations older than ttl into CANCELLED.
// Run from the cron endpoint. Uses the same guarded transition as client
// cancels, so a donation that settles mid-sweep is left alone.
func (s *Service) ExpireStalePending(ctx context.Context, ttl time.Duration) (int, error) {
	stale, err := s.store.ListStalePending(time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	processed := 0
	for i := range stale {
		applied, _, err := s.store.TransitionStatus(stale[i].ID, []string{models.StatusPending}, models.StatusCancelled, store.StatusUpdate{
			MergeDetails: map[string]interface{}{"cancelled_by": "expiry-sweep"},
		})
		if err != nil {
			log.Printf("[reconcile] expire sweep: donation %s: %v", stale[i].ID, err)
			continue
		}
		if applied {
			processed++
		}
	}
	return processed, nil
}

// applyPaymentOutcome maps a gateway payment record onto a status transition.
func (s *Service) applyPaymentOutcome(d *models.Donation, p *gateway.Payment) (*models.Donation, error) {
	switch p.Status {
	case gateway.PaymentCaptured:
		applied, updated, err := s.store.TransitionStatus(d.ID, fromAuthoritative, models.StatusCompleted, store.StatusUpdate{
			PaymentID: p.ID,
			MergeDetails: map[string]interface{}{
				"captured": true,
				"payment":  p.Raw,
				"method":   p.Method,
			},
		})
		if err != nil {
			return nil, err
		}
		if applied {
			s.notifyCompleted(updated)
		}
		return updated, nil
	case gateway.PaymentFailed:
		_, updated, err := s.store.TransitionStatus(d.ID, fromAuthoritative, models.StatusFailed, store.StatusUpdate{
			PaymentID: p.ID,
			MergeDetails: map[string]interface{}{
				"captured":          false,
				"payment":           p.Raw,
				"error_code":        p.ErrorCode,
				"error_description": p.ErrorDesc,
			},
		})
		if err != nil {
			return nil, err
		}
		return updated, nil
	default:
		// created/authorized/pending: not decisive, leave the record as is.
		return d, nil
	}
}

func (s *Service) notifyCompleted(d *models.Donation) {
	send := func() {
		if err := s.notifier.SendThankYou(d.DonorEmail, d.DonorName, d.ReceiptNo, d.Amount); err != nil {
			log.Printf("[reconcile] thank-you mail for %s failed: %v", d.ReceiptNo, err)
		}
		if err := s.notifier.SendAdminNotification(d.ReceiptNo, d.DonorName, d.DonorEmail, d.Amount); err != nil {
			log.Printf("[reconcile] admin mail for %s failed: %v", d.ReceiptNo, err)
		}
	}
	if s.SyncNotify {
		send()
		return
	}
	go send()
}

// lookup resolves a donation from either identifier; call sites differ in
// which correlation key they hold.
func (s *Service) lookup(donationID, orderID string) (*models.Donation, error) {
	if donationID != "" {
		d, err := s.store.GetByID(donationID)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if orderID != "" {
		d, err := s.store.GetByOrderID(orderID)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// settled reports statuses no gateway signal may change. CANCELLED is
// deliberately absent: authoritative signals may override it.
func settled(status string) bool {
	switch status {
	case models.StatusCompleted, models.StatusFailed, models.StatusRefunded:
		return true
	}
	return false
}

// pickDecisive prefers a captured payment, then a failed one, over
// still-processing attempts.
func pickDecisive(payments []gateway.Payment) *gateway.Payment {
	var failed *gateway.Payment
	for i := range payments {
		switch payments[i].Status {
		case gateway.PaymentCaptured:
			return &payments[i]
		case gateway.PaymentFailed:
			failed = &payments[i]
		}
	}
	return failed
}

func toJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
