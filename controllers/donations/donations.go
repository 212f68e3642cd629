package donations

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/shikerigoshala/gomantabackend-sub000/gateway"
	"github.com/shikerigoshala/gomantabackend-sub000/services"
	"github.com/shikerigoshala/gomantabackend-sub000/utils"

	"github.com/gorilla/mux"
)

// Controller serves the public donation endpoints. All reconciliation logic
// lives in the service; handlers only translate HTTP to service calls.
type Controller struct {
	svc *services.Service
}

func NewController(svc *services.Service) *Controller {
	return &Controller{svc: svc}
}

type createDonationRequest struct {
	Amount       float64           `json:"amount" validate:"required"`
	DonationType string            `json:"donationType"`
	Name         string            `json:"name" validate:"required,nameok"`
	Email        string            `json:"email" validate:"required,email"`
	Phone        string            `json:"phone" validate:"phone10"`
	Address      map[string]string `json:"address"`
}

// Create handles POST /donations: validates the donor form, creates the
// gateway order and the PENDING donation, and returns what the checkout
// widget needs.
func (c *Controller) Create(w http.ResponseWriter, r *http.Request) {
	var req createDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{
			Success: false,
			Message: "Invalid JSON body",
		})
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	donation, order, err := c.svc.CreateDonationAndOrder(r.Context(), req.Amount, services.DonorInfo{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
	}, req.DonationType)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.APIResponse{
		Success: true,
		Message: "Donation created",
		Data: map[string]interface{}{
			"donationId": donation.ID,
			"orderId":    order.ID,
			"amount":     order.AmountPaise,
			"currency":   order.Currency,
			"receiptNo":  donation.ReceiptNo,
			"keyId":      os.Getenv("RAZORPAY_KEY_ID"),
		},
	})
}

type verifyPaymentRequest struct {
	DonationID string `json:"donationId"`
	OrderID    string `json:"razorpay_order_id"`
	PaymentID  string `json:"razorpay_payment_id" validate:"required"`
	Signature  string `json:"razorpay_signature"`
}

// Verify handles POST /donations/verify, called by the frontend after the
// checkout widget reports success.
func (c *Controller) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{
			Success: false,
			Message: "Invalid JSON body",
		})
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	donation, err := c.svc.VerifyAndFinalizePayment(r.Context(), req.PaymentID, req.OrderID, req.DonationID, req.Signature)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Payment " + donation.Status,
		Data: map[string]interface{}{
			"donationId": donation.ID,
			"status":     donation.Status,
			"receiptNo":  donation.ReceiptNo,
		},
	})
}

// Webhook handles POST /donations/webhook. The raw body is read before any
// parsing because the signature covers the exact bytes Razorpay sent.
// Unmatched events are acknowledged with 200 so the provider stops retrying.
func (c *Controller) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{
			Success: false,
			Message: "Unable to read body",
		})
		return
	}

	signature := r.Header.Get("X-Razorpay-Signature")
	if err := c.svc.HandleWebhookEvent(r.Context(), body, signature); err != nil {
		if errors.Is(err, services.ErrAuthentication) {
			utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{
				Success: false,
				Message: "Invalid signature",
			})
			return
		}
		log.Printf("[webhook] processing error: %v", err)
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{
			Success: false,
			Message: "Webhook processing failed",
		})
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "OK",
	})
}

// CheckStatus handles GET /donations/check-status/{orderId}. Polled by the
// frontend while it waits for the payment to settle.
func (c *Controller) CheckStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	if orderID == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{
			Success: false,
			Message: "orderId is required",
		})
		return
	}

	donation, err := c.svc.PollAndSyncStatus(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Status retrieved",
		Data: map[string]interface{}{
			"donationId": donation.ID,
			"orderId":    donation.OrderID,
			"status":     donation.Status,
			"receiptNo":  donation.ReceiptNo,
			"amount":     donation.Amount,
		},
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /donations/{id}/cancel, used when the donor dismisses
// the checkout modal. Advisory: a later gateway signal can still override it.
func (c *Controller) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	donation, err := c.svc.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Donation " + donation.Status,
		Data: map[string]interface{}{
			"donationId": donation.ID,
			"status":     donation.Status,
		},
	})
}

// writeServiceError maps service-level errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	var vErr *services.ValidationError
	var oErr *services.OrphanedOrderError
	var gErr *gateway.Error

	switch {
	case errors.As(err, &vErr):
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{
			Success: false,
			Message: vErr.Msg,
		})
	case errors.Is(err, services.ErrNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{
			Success: false,
			Message: "Donation not found",
		})
	case errors.Is(err, services.ErrAuthentication):
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{
			Success: false,
			Message: "Invalid signature",
		})
	case errors.As(err, &oErr):
		// Order exists on the gateway side but the donation write failed.
		// Surfaced to the client as a retriable server error; the order id is
		// already logged for manual reconciliation.
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{
			Success: false,
			Message: "Could not record donation, please try again",
		})
	case errors.As(err, &gErr):
		status := http.StatusBadGateway
		if gErr.Transient {
			status = http.StatusServiceUnavailable
		}
		utils.WriteJSON(w, status, utils.APIResponse{
			Success: false,
			Message: "Payment provider error, please try again later",
		})
	default:
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{
			Success: false,
			Message: "Internal server error",
		})
	}
}
