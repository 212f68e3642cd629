package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shikerigoshala/gomantabackend-sub000/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no donation matches the given identifier.
var ErrNotFound = errors.New("donation not found")

// Store is the persistence layer for donation records. It is the single
// source of truth for donation status; all status changes go through
// TransitionStatus so racing reconciliation signals cannot regress a
// terminal state.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// StatusUpdate carries the optional fields applied together with a status
// transition. MergeDetails is merged shallowly into payment_details;
// existing keys are overwritten, absent keys are preserved.
type StatusUpdate struct {
	PaymentID     string
	MergeDetails  map[string]interface{}
	RefundDetails map[string]interface{}
}

func (s *Store) Create(d *models.Donation) error {
	if err := s.db.Create(d).Error; err != nil {
		return fmt.Errorf("create donation: %w", err)
	}
	return nil
}

func (s *Store) GetByID(id string) (*models.Donation, error) {
	return s.getBy("id = ?", id)
}

func (s *Store) GetByOrderID(orderID string) (*models.Donation, error) {
	return s.getBy("order_id = ?", orderID)
}

func (s *Store) GetByPaymentID(paymentID string) (*models.Donation, error) {
	return s.getBy("payment_id = ?", paymentID)
}

func (s *Store) getBy(cond string, val string) (*models.Donation, error) {
	var d models.Donation
	if err := s.db.Where(cond, val).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load donation: %w", err)
	}
	return &d, nil
}

// TransitionStatus applies a conditional status update: the write lands only
// when the current status is one of `from`. It returns applied=false (no
// error) when the guard did not match, which callers treat as a benign
// no-op under racing signals. The merge of payment_details happens inside
// the same transaction so concurrent updates cannot drop keys.
func (s *Store) TransitionStatus(id string, from []string, to string, upd StatusUpdate) (bool, *models.Donation, error) {
	applied := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var d models.Donation
		if err := tx.Where("id = ?", id).First(&d).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		updates := map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		}
		if upd.PaymentID != "" {
			updates["payment_id"] = upd.PaymentID
		}
		if len(upd.MergeDetails) > 0 {
			merged, err := mergeJSON(d.PaymentDetails, upd.MergeDetails)
			if err != nil {
				return err
			}
			updates["payment_details"] = merged
		}
		if len(upd.RefundDetails) > 0 {
			merged, err := mergeJSON(d.RefundDetails, upd.RefundDetails)
			if err != nil {
				return err
			}
			updates["refund_details"] = merged
		}

		res := tx.Model(&models.Donation{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil, ErrNotFound
		}
		return false, nil, fmt.Errorf("transition donation %s -> %s: %w", id, to, err)
	}
	d, err := s.GetByID(id)
	if err != nil {
		return applied, nil, err
	}
	return applied, d, nil
}

// MergeRefundDetails records refund metadata without touching status. Used
// when a refund webhook references a donation that is not COMPLETED: the
// metadata is kept for the audit trail, the invalid transition is not forced.
func (s *Store) MergeRefundDetails(id string, details map[string]interface{}) error {
	var d models.Donation
	if err := s.db.Where("id = ?", id).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	merged, err := mergeJSON(d.RefundDetails, details)
	if err != nil {
		return err
	}
	return s.db.Model(&models.Donation{}).Where("id = ?", id).
		Updates(map[string]interface{}{"refund_details": merged, "updated_at": time.Now()}).Error
}

// ListStalePending returns PENDING donations created before the cutoff,
// for the expire-pending cron sweep.
func (s *Store) ListStalePending(cutoff time.Time) ([]models.Donation, error) {
	var rows []models.Donation
	err := s.db.Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// List returns a page of donations for the admin panel, newest first,
// optionally filtered by receipt/order id substring.
func (s *Store) List(page, limit int, search string) ([]models.Donation, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	countQuery := s.db.Model(&models.Donation{})
	if search != "" {
		like := "%" + strings.TrimSpace(search) + "%"
		countQuery = countQuery.Where("order_id LIKE ? OR receipt_no LIKE ?", like, like)
	}
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Donation
	query := s.db.Model(&models.Donation{})
	if search != "" {
		like := "%" + strings.TrimSpace(search) + "%"
		query = query.Where("order_id LIKE ? OR receipt_no LIKE ?", like, like)
	}
	err := query.Order("created_at DESC").Limit(limit).Offset((page - 1) * limit).Find(&rows).Error
	return rows, total, err
}

// GetAdminByUsername retrieves an active admin by username.
func (s *Store) GetAdminByUsername(username string) (*models.Admin, error) {
	var admin models.Admin
	if err := s.db.Where("username = ? AND is_active = ?", username, true).First(&admin).Error; err != nil {
		return nil, err
	}
	return &admin, nil
}

// GetAdminByID retrieves an admin by primary key.
func (s *Store) GetAdminByID(id int64) (*models.Admin, error) {
	var admin models.Admin
	if err := s.db.First(&admin, id).Error; err != nil {
		return nil, err
	}
	return &admin, nil
}

func mergeJSON(existing datatypes.JSON, add map[string]interface{}) (datatypes.JSON, error) {
	base := map[string]interface{}{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &base); err != nil {
			// Unparseable stored blob: keep it under a recovery key rather than lose it.
			base = map[string]interface{}{"_raw": string(existing)}
		}
	}
	for k, v := range add {
		base[k] = v
	}
	out, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}
