package admins

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shikerigoshala/gomantabackend-sub000/middleware"
	"github.com/shikerigoshala/gomantabackend-sub000/services"
	"github.com/shikerigoshala/gomantabackend-sub000/store"
	"github.com/shikerigoshala/gomantabackend-sub000/utils"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Controller serves the admin surface: login, donation management and
// refunds.
type Controller struct {
	store *store.Store
	svc   *services.Service
}

func NewController(st *store.Store, svc *services.Service) *Controller {
	return &Controller{store: st, svc: svc}
}

// Login authenticates an admin and issues an access token. Failed attempts
// feed the progressive lockout; the response never reveals whether the
// username or the password was wrong.
func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
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

	if locked, ttl := middleware.IsAccountLocked(req.Username); locked {
		utils.WriteJSON(w, http.StatusTooManyRequests, utils.APIResponse{
			Success: false,
			Message: fmt.Sprintf("Account locked, try again in %d seconds", int(ttl.Seconds())+1),
		})
		return
	}

	admin, err := c.store.GetAdminByUsername(req.Username)
	if err != nil {
		middleware.RecordFailedLogin(req.Username)
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{
			Success: false,
			Message: "Invalid username or password",
		})
		return
	}

	if !admin.ValidatePassword(req.Password) {
		middleware.RecordFailedLogin(req.Username)
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{
			Success: false,
			Message: "Invalid username or password",
		})
		return
	}

	middleware.ResetFailedLogin(req.Username)

	token, err := utils.GenerateAccessToken(admin.ID, admin.Username)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{
			Success: false,
			Message: "Could not create token",
		})
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Login successful",
		Data: map[string]interface{}{
			"token": token,
			"admin": map[string]interface{}{
				"id":       admin.ID,
				"username": admin.Username,
			},
		},
	})
}

// Logout revokes the current token's jti so it cannot be replayed for the
// rest of its lifetime.
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	tokenString := ""
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		tokenString = authHeader[7:]
	}
	_, claims, err := utils.ValidateAccessToken(tokenString)
	if err != nil {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{
			Success: false,
			Message: "Invalid token",
		})
		return
	}

	jti, _ := claims["jti"].(string)
	ttl := 6 * time.Hour
	if expRaw, ok := claims["exp"].(float64); ok {
		if remain := time.Until(time.Unix(int64(expRaw), 0)); remain > 0 {
			ttl = remain
		}
	}
	if err := utils.RevokeJTI(jti, ttl); err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{
			Success: false,
			Message: "Could not revoke token",
		})
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Logged out",
	})
}
