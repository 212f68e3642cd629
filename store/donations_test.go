package store

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shikerigoshala/gomantabackend-sub000/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
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
	return New(db)
}

var donationSeq int

func seedDonation(t *testing.T, s *Store, status string) *models.Donation {
	t.Helper()
	donationSeq++
	d := &models.Donation{
		ID:         fmt.Sprintf("don_%d_%d", time.Now().UnixNano(), donationSeq),
		Amount:     501,
		DonorName:  "Test Donor",
		DonorEmail: "donor@example.com",
		Status:     status,
		OrderID:    fmt.Sprintf("order_%d_%d", time.Now().UnixNano(), donationSeq),
		ReceiptNo:  fmt.Sprintf("GOM-TEST-%d-%d", time.Now().UnixNano(), donationSeq),
	}
	if err := s.Create(d); err != nil {
		t.Fatalf("seed donation: %v", err)
	}
	return d
}

func TestGetByIDAndOrderID(t *testing.T) {
	s := newTestStore(t)
	d := seedDonation(t, s, models.StatusPending)

	got, err := s.GetByID(d.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.OrderID != d.OrderID {
		t.Fatalf("expected order %s, got %s", d.OrderID, got.OrderID)
	}

	got, err = s.GetByOrderID(d.OrderID)
	if err != nil {
		t.Fatalf("GetByOrderID: %v", err)
	}
	if got.ID != d.ID {
		t.Fatalf("expected donation %s, got %s", d.ID, got.ID)
	}

	if _, err := s.GetByID("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionStatusApplies(t *testing.T) {
	s := newTestStore(t)
	d := seedDonation(t, s, models.StatusPending)

	applied, updated, err := s.TransitionStatus(d.ID, []string{models.StatusPending}, models.StatusCompleted, StatusUpdate{
		PaymentID:    "pay_100",
		MergeDetails: map[string]interface{}{"captured": true, "method": "upi"},
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if !applied {
		t.Fatalf("expected transition to apply")
	}
	if updated.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", updated.Status)
	}
	if updated.PaymentID == nil || *updated.PaymentID != "pay_100" {
		t.Fatalf("payment id not recorded: %v", updated.PaymentID)
	}

	var details map[string]interface{}
	if err := json.Unmarshal(updated.PaymentDetails, &details); err != nil {
		t.Fatalf("unmarshal payment details: %v", err)
	}
	if details["captured"] != true || details["method"] != "upi" {
		t.Fatalf("unexpected details: %v", details)
	}
}

func TestTransitionStatusGuardBlocksTerminal(t *testing.T) {
	s := newTestStore(t)
	d := seedDonation(t, s, models.StatusCompleted)

	// A late failure signal must not regress a completed donation.
	applied, updated, err := s.TransitionStatus(d.ID, []string{models.StatusPending, models.StatusCancelled}, models.StatusFailed, StatusUpdate{})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if applied {
		t.Fatalf("guarded transition applied against COMPLETED")
	}
	if updated.Status != models.StatusCompleted {
		t.Fatalf("status changed to %s", updated.Status)
	}
}

func TestTransitionStatusCancelledOverridable(t *testing.T) {
	s := newTestStore(t)
	d := seedDonation(t, s, models.StatusCancelled)

	// Authoritative signals include CANCELLED in the from set.
	applied, updated, err := s.TransitionStatus(d.ID, []string{models.StatusPending, models.StatusCancelled}, models.StatusCompleted, StatusUpdate{PaymentID: "pay_late"})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if !applied {
		t.Fatalf("authoritative signal should override CANCELLED")
	}
	if updated.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", updated.Status)
	}

	// Client cancel uses PENDING only and must not touch it again.
	applied, _, err = s.TransitionStatus(d.ID, []string{models.StatusPending}, models.StatusCancelled, StatusUpdate{})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if applied {
		t.Fatalf("client cancel applied against COMPLETED")
	}
}

func TestTransitionStatusUnknownDonation(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.TransitionStatus("missing", []string{models.StatusPending}, models.StatusCompleted, StatusUpdate{}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMergePreservesExistingKeys(t *testing.T) {
	s := newTestStore(t)
	d := seedDonation(t, s, models.StatusPending)

	if _, _, err := s.TransitionStatus(d.ID, []string{models.StatusPending}, models.StatusPending, StatusUpdate{
		MergeDetails: map[string]interface{}{"order": map[string]interface{}{"id": d.OrderID}, "note": "first"},
	}); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	_, updated, err := s.TransitionStatus(d.ID, []string{models.StatusPending}, models.StatusCompleted, StatusUpdate{
		MergeDetails: map[string]interface{}{"captured": true, "note": "second"},
	})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}

	var details map[string]interface{}
	if err := json.Unmarshal(updated.PaymentDetails, &details); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := details["order"]; !ok {
		t.Fatalf("earlier key dropped by merge: %v", details)
	}
	if details["note"] != "second" {
		t.Fatalf("existing key not overwritten: %v", details["note"])
	}
	if details["captured"] != true {
		t.Fatalf("new key missing: %v", details)
	}
}

func TestMergeRefundDetailsKeepsStatus(t *testing.T) {
	s := newTestStore(t)
	d := seedDonation(t, s, models.StatusFailed)

	if err := s.MergeRefundDetails(d.ID, map[string]interface{}{"refund_id": "rfnd_1"}); err != nil {
		t.Fatalf("MergeRefundDetails: %v", err)
	}
	got, err := s.GetByID(d.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Fatalf("status changed to %s", got.Status)
	}
	var details map[string]interface{}
	if err := json.Unmarshal(got.RefundDetails, &details); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if details["refund_id"] != "rfnd_1" {
		t.Fatalf("refund details not recorded: %v", details)
	}
}

func TestListStalePending(t *testing.T) {
	s := newTestStore(t)
	stale := seedDonation(t, s, models.StatusPending)
	fresh := seedDonation(t, s, models.StatusPending)
	done := seedDonation(t, s, models.StatusCompleted)

	old := time.Now().Add(-48 * time.Hour)
	if err := s.db.Model(&models.Donation{}).Where("id IN ?", []string{stale.ID, done.ID}).
		Update("created_at", old).Error; err != nil {
		t.Fatalf("age rows: %v", err)
	}

	rows, err := s.ListStalePending(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("ListStalePending: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != stale.ID {
		t.Fatalf("expected only the stale pending donation, got %d rows", len(rows))
	}
	_ = fresh
}

func TestListPaginationAndSearch(t *testing.T) {
	s := newTestStore(t)
	var ids []string
	for i := 0; i < 15; i++ {
		ids = append(ids, seedDonation(t, s, models.StatusPending).ID)
	}

	rows, total, err := s.List(1, 10, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 15 {
		t.Fatalf("expected total 15, got %d", total)
	}
	if len(rows) != 10 {
		t.Fatalf("expected 10 rows on first page, got %d", len(rows))
	}

	rows, _, err = s.List(2, 10, "")
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows on second page, got %d", len(rows))
	}

	target, err := s.GetByID(ids[0])
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	rows, total, err = s.List(1, 10, target.OrderID)
	if err != nil {
		t.Fatalf("List search: %v", err)
	}
	if total != 1 || len(rows) != 1 || rows[0].ID != target.ID {
		t.Fatalf("search by order id failed: total=%d rows=%d", total, len(rows))
	}
}
