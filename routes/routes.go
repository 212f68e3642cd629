package routes

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shikerigoshala/gomantabackend-sub000/controllers/admins"
	"github.com/shikerigoshala/gomantabackend-sub000/controllers/donations"
	"github.com/shikerigoshala/gomantabackend-sub000/database"
	"github.com/shikerigoshala/gomantabackend-sub000/gateway"
	"github.com/shikerigoshala/gomantabackend-sub000/middleware"
	"github.com/shikerigoshala/gomantabackend-sub000/notify"
	"github.com/shikerigoshala/gomantabackend-sub000/services"
	"github.com/shikerigoshala/gomantabackend-sub000/store"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

func optionsHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "gomata-donations-api",
	})
}

func InitRouter() *mux.Router {
	r := mux.NewRouter()

	// Health check endpoint for Docker health checks (root level)
	r.Handle("/health", http.HandlerFunc(healthHandler)).Methods(http.MethodGet)

	// CORS origins from CORS_ALLOWED_ORIGINS (comma-separated) or defaults
	originsEnv := os.Getenv("CORS_ALLOWED_ORIGINS")
	origins := []string{
		"https://shikerigoshala.org", "https://www.shikerigoshala.org",
		"http://localhost:3000", "http://localhost:5173", "http://127.0.0.1:3000",
	}
	if originsEnv != "" {
		parts := strings.Split(originsEnv, ",")
		for _, p := range parts {
			if o := strings.TrimSpace(p); o != "" {
				origins = append(origins, o)
			}
		}
	}
	r.Use(func(next http.Handler) http.Handler {
		return handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-CRON-KEY", "X-Requested-With", "X-Request-ID"}),
			handlers.AllowCredentials(),
		)(next)
	})

	api := r.PathPrefix("/api").Subrouter()

	// Catch-all OPTIONS handler for CORS preflight
	api.PathPrefix("/").HandlerFunc(optionsHandler).Methods(http.MethodOptions)

	// Wire the reconciliation stack
	st := store.New(database.DB)
	gw := gateway.NewFromEnv()
	mailer := notify.NewFromEnv()
	svc := services.New(st, gw, mailer)

	donationController := donations.NewController(svc)
	adminController := admins.NewController(st, svc)

	// Public donation endpoints, rate limited per IP
	donationLimiter := middleware.NewIPRateLimiter(60, time.Minute)
	// Webhook: higher ceiling, gateway egress IPs whitelisted via env
	webhookLimiter := middleware.NewWebhookLimiter(500, time.Hour, splitEnvList("WEBHOOK_IP_WHITELIST"))
	// Cron: 100/hour is plenty for a scheduler
	cronLimiter := middleware.NewIPRateLimiter(100, time.Hour)

	api.Handle("/donations", donationLimiter.Middleware(http.HandlerFunc(donationController.Create))).Methods(http.MethodPost)
	api.Handle("/donations/verify", donationLimiter.Middleware(http.HandlerFunc(donationController.Verify))).Methods(http.MethodPost)
	api.Handle("/donations/webhook", webhookLimiter.Middleware(http.HandlerFunc(donationController.Webhook))).Methods(http.MethodPost)
	api.Handle("/donations/check-status/{orderId}", donationLimiter.Middleware(http.HandlerFunc(donationController.CheckStatus))).Methods(http.MethodGet)
	api.Handle("/donations/{id}/cancel", donationLimiter.Middleware(http.HandlerFunc(donationController.Cancel))).Methods(http.MethodPost)

	// Refund is admin-only
	api.Handle("/donations/{id}/refund", middleware.AdminAuthMiddleware(http.HandlerFunc(adminController.Refund))).Methods(http.MethodPost)

	// Cron endpoint for expiring stale pending donations (X-CRON-KEY header)
	api.Handle("/cron/expire-pending", cronLimiter.Middleware(http.HandlerFunc(donationController.ExpirePending))).Methods(http.MethodPost)

	// Admin surface
	api.Handle("/admin/login", http.HandlerFunc(adminController.Login)).Methods(http.MethodPost)
	api.Handle("/admin/logout", middleware.AdminAuthMiddleware(http.HandlerFunc(adminController.Logout))).Methods(http.MethodPost)
	api.Handle("/admin/donations", middleware.AdminAuthMiddleware(http.HandlerFunc(adminController.ListDonations))).Methods(http.MethodGet)
	api.Handle("/admin/donations/{id}", middleware.AdminAuthMiddleware(http.HandlerFunc(adminController.GetDonation))).Methods(http.MethodGet)

	// Health check under the API prefix as well
	api.Handle("/health", http.HandlerFunc(healthHandler)).Methods(http.MethodGet)

	return r
}

func splitEnvList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
