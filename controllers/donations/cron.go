package donations

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/shikerigoshala/gomantabackend-sub000/utils"
)

// ExpirePending handles POST /cron/expire-pending, guarded by X-CRON-KEY.
// Sweeps PENDING donations older than PENDING_TTL_HOURS (default 24) into
// CANCELLED. Donations that settle while the sweep runs are skipped by the
// guarded transition.
func (c *Controller) ExpirePending(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-CRON-KEY")
	if key == "" || key != os.Getenv("CRON_KEY") {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}

	ttl := 24 * time.Hour
	if s := os.Getenv("PENDING_TTL_HOURS"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			ttl = time.Duration(v) * time.Hour
		}
	}

	processed, err := c.svc.ExpireStalePending(r.Context(), ttl)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Sweep failed"})
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Expired pending donations processed",
		Data:    map[string]interface{}{"processed": processed},
	})
}
