package admins

import (
	"net/http"
	"strconv"

	"github.com/shikerigoshala/gomantabackend-sub000/store"
	"github.com/shikerigoshala/gomantabackend-sub000/utils"

	"github.com/gorilla/mux"
)

// ListDonations handles GET /admin/donations with pagination and an optional
// search over order id and receipt number.
func (c *Controller) ListDonations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	search := q.Get("search")

	rows, total, err := c.store.List(page, limit, search)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{
			Success: false,
			Message: "Could not load donations",
		})
		return
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Donations retrieved",
		Data: map[string]interface{}{
			"donations": rows,
			"total":     total,
			"page":      page,
			"limit":     limit,
		},
	})
}

// GetDonation handles GET /admin/donations/{id}.
func (c *Controller) GetDonation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	donation, err := c.store.GetByID(id)
	if err != nil {
		if err == store.ErrNotFound {
			utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{
				Success: false,
				Message: "Donation not found",
			})
			return
		}
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{
			Success: false,
			Message: "Could not load donation",
		})
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Donation retrieved",
		Data:    donation,
	})
}
