package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/url"
	"os"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// Razorpay orders below 100 paise (one rupee) are rejected by the provider;
// enforced here so no network call is made for amounts that cannot succeed.
const MinOrderAmountPaise = 100

// Payment statuses reported by Razorpay.
const (
	PaymentCaptured   = "captured"
	PaymentAuthorized = "authorized"
	PaymentFailed     = "failed"
	PaymentCreated    = "created"
	PaymentRefunded   = "refunded"
)

// ErrAmountBelowMinimum is returned before any gateway call when the
// converted paise amount is under the provider minimum.
var ErrAmountBelowMinimum = errors.New("amount below gateway minimum of 1 rupee")

// Error wraps a gateway failure. Transient errors (network, timeouts) are
// retried by the client; provider rejections are surfaced immediately.
type Error struct {
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("razorpay %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Order is the gateway's representation of a pending charge.
type Order struct {
	ID          string
	AmountPaise int64
	Currency    string
	Status      string
	Raw         map[string]interface{}
}

// Payment is a payment attempt against an order.
type Payment struct {
	ID          string
	OrderID     string
	Status      string
	AmountPaise int64
	Method      string
	ErrorCode   string
	ErrorDesc   string
	Raw         map[string]interface{}
}

// Refund is a processed or in-flight refund.
type Refund struct {
	ID          string
	PaymentID   string
	AmountPaise int64
	Status      string
	Raw         map[string]interface{}
}

// Client wraps the Razorpay SDK. Amount conversion to paise happens here and
// nowhere else; everything above this boundary speaks rupees.
type Client struct {
	rz            *razorpay.Client
	keySecret     string
	webhookSecret string
	maxAttempts   int
	baseBackoff   time.Duration
}

func New(keyID, keySecret, webhookSecret string) *Client {
	return &Client{
		rz:            razorpay.NewClient(keyID, keySecret),
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		maxAttempts:   3,
		baseBackoff:   500 * time.Millisecond,
	}
}

// NewFromEnv builds a client from RAZORPAY_KEY_ID, RAZORPAY_KEY_SECRET and
// RAZORPAY_WEBHOOK_SECRET.
func NewFromEnv() *Client {
	return New(
		os.Getenv("RAZORPAY_KEY_ID"),
		os.Getenv("RAZORPAY_KEY_SECRET"),
		os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
	)
}

// ToPaise converts a rupee amount to the gateway minor unit, rounding to the
// nearest paisa.
func ToPaise(amountRupees float64) int64 {
	return int64(math.Round(amountRupees * 100))
}

// CreateOrder creates a Razorpay order for the given rupee amount. The paise
// conversion and the provider-minimum check both live here, before any
// network traffic.
func (c *Client) CreateOrder(ctx context.Context, amountRupees float64, receipt string, notes map[string]interface{}) (*Order, error) {
	paise := ToPaise(amountRupees)
	if paise < MinOrderAmountPaise {
		return nil, &Error{Op: "order.create", Err: ErrAmountBelowMinimum}
	}

	data := map[string]interface{}{
		"amount":   paise,
		"currency": "INR",
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	body, err := c.doWithRetry(ctx, "order.create", func() (map[string]interface{}, error) {
		return c.rz.Order.Create(data, nil)
	})
	if err != nil {
		return nil, err
	}

	return &Order{
		ID:          getString(body, "id"),
		AmountPaise: getInt64(body, "amount"),
		Currency:    getString(body, "currency"),
		Status:      getString(body, "status"),
		Raw:         body,
	}, nil
}

// FetchPayment loads a payment by its gateway id, retrying transient failures.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	body, err := c.doWithRetry(ctx, "payment.fetch", func() (map[string]interface{}, error) {
		return c.rz.Payment.Fetch(paymentID, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	p := paymentFromMap(body)
	return &p, nil
}

// FetchPaymentsForOrder lists the payment attempts made against an order.
// Used by status polling when no payment id is known yet.
func (c *Client) FetchPaymentsForOrder(ctx context.Context, orderID string) ([]Payment, error) {
	body, err := c.doWithRetry(ctx, "order.payments", func() (map[string]interface{}, error) {
		return c.rz.Order.Payments(orderID, nil, nil)
	})
	if err != nil {
		return nil, err
	}

	items, _ := body["items"].([]interface{})
	out := make([]Payment, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, paymentFromMap(m))
	}
	return out, nil
}

// Refund initiates a (possibly partial) refund for a captured payment, with
// the rupee amount converted to paise here. Not retried: a timed-out refund
// call may have succeeded server-side and a retry would risk a double refund.
func (c *Client) Refund(ctx context.Context, paymentID string, amountRupees float64, notes map[string]interface{}) (*Refund, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "payment.refund", Transient: true, Err: err}
	}
	amountPaise := ToPaise(amountRupees)
	data := map[string]interface{}{}
	if len(notes) > 0 {
		data["notes"] = notes
	}
	body, err := c.rz.Payment.Refund(paymentID, int(amountPaise), data, nil)
	if err != nil {
		return nil, &Error{Op: "payment.refund", Transient: isTransient(err), Err: err}
	}
	return &Refund{
		ID:          getString(body, "id"),
		PaymentID:   getString(body, "payment_id"),
		AmountPaise: getInt64(body, "amount"),
		Status:      getString(body, "status"),
		Raw:         body,
	}, nil
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header against the
// raw body using HMAC-SHA256 and a constant-time comparison.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	return verifyHMAC(body, signature, c.webhookSecret)
}

// VerifyCheckoutSignature checks the signature the checkout widget hands to
// the client after payment: HMAC-SHA256(orderID + "|" + paymentID, keySecret).
func (c *Client) VerifyCheckoutSignature(orderID, paymentID, signature string) bool {
	payload := orderID + "|" + paymentID
	return verifyHMAC([]byte(payload), signature, c.keySecret)
}

func verifyHMAC(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// doWithRetry runs a gateway call with bounded exponential backoff on
// transport-level errors. Provider rejections return immediately.
func (c *Client) doWithRetry(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Op: op, Transient: true, Err: err}
		}
		body, err := fn()
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, &Error{Op: op, Err: err}
		}
		if attempt < c.maxAttempts {
			log.Printf("[razorpay] %s attempt %d/%d failed, retrying in %s: %v", op, attempt, c.maxAttempts, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &Error{Op: op, Transient: true, Err: ctx.Err()}
			}
			backoff *= 2
		}
	}
	return nil, &Error{Op: op, Transient: true, Err: lastErr}
}

func isTransient(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func paymentFromMap(m map[string]interface{}) Payment {
	return Payment{
		ID:          getString(m, "id"),
		OrderID:     getString(m, "order_id"),
		Status:      getString(m, "status"),
		AmountPaise: getInt64(m, "amount"),
		Method:      getString(m, "method"),
		ErrorCode:   getString(m, "error_code"),
		ErrorDesc:   getString(m, "error_description"),
		Raw:         m,
	}
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
