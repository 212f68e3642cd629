package admins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shikerigoshala/gomantabackend-sub000/gateway"
	"github.com/shikerigoshala/gomantabackend-sub000/models"
	"github.com/shikerigoshala/gomantabackend-sub000/services"
	"github.com/shikerigoshala/gomantabackend-sub000/store"

	"github.com/gorilla/mux"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeGateway struct {
	refundErr error
}

func (f *fakeGateway) CreateOrder(ctx context.Context, amountRupees float64, receipt string, notes map[string]interface{}) (*gateway.Order, error) {
	return nil, errors.New("not used")
}

func (f *fakeGateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	return nil, errors.New("not used")
}

func (f *fakeGateway) FetchPaymentsForOrder(ctx context.Context, orderID string) ([]gateway.Payment, error) {
	return nil, errors.New("not used")
}

func (f *fakeGateway) Refund(ctx context.Context, paymentID string, amountRupees float64, notes map[string]interface{}) (*gateway.Refund, error) {
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &gateway.Refund{ID: "rfnd_1", PaymentID: paymentID, AmountPaise: gateway.ToPaise(amountRupees), Status: "processed"}, nil
}

func (f *fakeGateway) VerifyWebhookSignature(body []byte, signature string) bool { return true }
func (f *fakeGateway) VerifyCheckoutSignature(orderID, paymentID, sig string) bool { return true }

type fakeNotifier struct{}

func (fakeNotifier) SendThankYou(donorEmail, donorName, receiptNo string, amount float64) error {
	return nil
}

func (fakeNotifier) SendAdminNotification(receiptNo, donorName, donorEmail string, amount float64) error {
	return nil
}

func newTestController(t *testing.T) (*Controller, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Donation{}, &models.Admin{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		db.Exec("DELETE FROM donations")
		db.Exec("DELETE FROM admins")
	})
	st := store.New(db)
	svc := services.New(st, &fakeGateway{}, fakeNotifier{})
	svc.SyncNotify = true
	return NewController(st, svc), st
}

var seedSeq int

func seedDonation(t *testing.T, st *store.Store, status string, paymentID string) *models.Donation {
	t.Helper()
	seedSeq++
	d := &models.Donation{
		ID:         fmt.Sprintf("don_%d_%d", time.Now().UnixNano(), seedSeq),
		Amount:     501,
		DonorName:  "Test Donor",
		DonorEmail: "donor@example.com",
		Status:     status,
		OrderID:    fmt.Sprintf("order_%d_%d", time.Now().UnixNano(), seedSeq),
		ReceiptNo:  fmt.Sprintf("GOM-TEST-%d-%d", time.Now().UnixNano(), seedSeq),
	}
	if paymentID != "" {
		d.PaymentID = &paymentID
	}
	if err := st.Create(d); err != nil {
		t.Fatalf("seed donation: %v", err)
	}
	return d
}

func newRefundRouter(c *Controller) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/donations/{id}/refund", c.Refund).Methods(http.MethodPost)
	return r
}

func postRefund(t *testing.T, r http.Handler, donationID string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/donations/"+donationID+"/refund", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRefundCompletedDonation(t *testing.T) {
	c, st := newTestController(t)
	r := newRefundRouter(c)
	d := seedDonation(t, st, models.StatusCompleted, "pay_1")

	rec := postRefund(t, r, d.ID, map[string]interface{}{"amount": 501, "reason": "donor request"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got, err := st.GetByID(d.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.StatusRefunded {
		t.Fatalf("expected REFUNDED, got %s", got.Status)
	}
}

func TestRefundOmittedAmountRefundsFull(t *testing.T) {
	c, st := newTestController(t)
	r := newRefundRouter(c)
	d := seedDonation(t, st, models.StatusCompleted, "pay_1")

	rec := postRefund(t, r, d.ID, map[string]interface{}{"reason": "donor request"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := st.GetByID(d.ID)
	if got.Status != models.StatusRefunded {
		t.Fatalf("expected REFUNDED, got %s", got.Status)
	}
}

func TestRefundPendingDonationReturns400(t *testing.T) {
	c, st := newTestController(t)
	r := newRefundRouter(c)
	d := seedDonation(t, st, models.StatusPending, "")

	rec := postRefund(t, r, d.ID, map[string]interface{}{"amount": 501})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-completed donation, got %d", rec.Code)
	}
	got, _ := st.GetByID(d.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("refund attempt changed status to %s", got.Status)
	}
}

func TestRefundUnknownDonationReturns404(t *testing.T) {
	c, _ := newTestController(t)
	r := newRefundRouter(c)

	rec := postRefund(t, r, "missing", map[string]interface{}{"amount": 501})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRefundExcessiveAmountReturns400(t *testing.T) {
	c, st := newTestController(t)
	r := newRefundRouter(c)
	d := seedDonation(t, st, models.StatusCompleted, "pay_1")

	rec := postRefund(t, r, d.ID, map[string]interface{}{"amount": 9999})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for amount above donation, got %d", rec.Code)
	}
}

func TestRefundGatewayRejectionReturns502(t *testing.T) {
	c, st := newTestController(t)
	r := newRefundRouter(c)
	d := seedDonation(t, st, models.StatusCompleted, "pay_1")

	gw := &fakeGateway{refundErr: &gateway.Error{Op: "payment.refund", Err: errors.New("insufficient balance")}}
	svc := services.New(st, gw, fakeNotifier{})
	svc.SyncNotify = true
	c = NewController(st, svc)
	r = newRefundRouter(c)

	rec := postRefund(t, r, d.ID, map[string]interface{}{"amount": 501})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on gateway rejection, got %d", rec.Code)
	}
	got, _ := st.GetByID(d.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("failed refund changed status to %s", got.Status)
	}
}
