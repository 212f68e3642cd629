package admins

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shikerigoshala/gomantabackend-sub000/gateway"
	"github.com/shikerigoshala/gomantabackend-sub000/services"
	"github.com/shikerigoshala/gomantabackend-sub000/utils"

	"github.com/gorilla/mux"
)

type refundRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// Refund handles POST /donations/{id}/refund. Admin only. An omitted amount
// refunds the full donation.
func (c *Controller) Refund(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{
			Success: false,
			Message: "Invalid JSON body",
		})
		return
	}

	if req.Amount == 0 {
		d, err := c.store.GetByID(id)
		if err != nil {
			utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{
				Success: false,
				Message: "Donation not found",
			})
			return
		}
		req.Amount = d.Amount
	}

	actor := "admin"
	if v := r.Context().Value(utils.AdminIDKey); v != nil {
		if adminID, ok := v.(int64); ok {
			actor = fmt.Sprintf("admin:%d", adminID)
		}
	}

	refund, donation, err := c.svc.InitiateRefund(r.Context(), id, req.Amount, req.Reason, actor)
	if err != nil {
		var vErr *services.ValidationError
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
		case errors.As(err, &gErr):
			utils.WriteJSON(w, http.StatusBadGateway, utils.APIResponse{
				Success: false,
				Message: "Payment provider rejected the refund",
			})
		default:
			utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{
				Success: false,
				Message: "Refund failed",
			})
		}
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Refund initiated",
		Data: map[string]interface{}{
			"refundId":   refund.ID,
			"donationId": donation.ID,
			"status":     donation.Status,
		},
	})
}
