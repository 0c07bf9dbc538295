package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	r.Use(RecoveryMiddleware(h.log))
	r.Use(CORSMiddleware)
	r.Use(LoggingMiddleware(h.log))

	// Public routes
	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}

	// Provider callbacks, authenticated by signature
	r.HandleFunc("/callback", h.Callback).Methods("POST")

	api := r.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", h.Register).Methods("POST")
	auth.HandleFunc("/login", h.Login).Methods("POST")

	api.HandleFunc("/games/{id}/demo", h.DemoGame).Methods("GET")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(h.AuthMiddleware)

	// Wallet
	protected.HandleFunc("/wallet/balance", h.GetBalance).Methods("GET")
	protected.HandleFunc("/wallet/deposit", h.Deposit).Methods("POST")
	protected.HandleFunc("/wallet/transactions", h.GetTransactions).Methods("GET")

	// Games
	protected.HandleFunc("/games", h.GetGames).Methods("GET")
	protected.HandleFunc("/games/{id}/launch", h.LaunchGame).Methods("POST")

	// Free rounds
	protected.HandleFunc("/freerounds", h.GetFreeRounds).Methods("GET")
	protected.HandleFunc("/freerounds", h.AddFreeRounds).Methods("POST")
	protected.HandleFunc("/freerounds", h.DeleteFreeRounds).Methods("DELETE")

	// Balance push
	protected.HandleFunc("/ws/balance", h.HandleBalanceSocket).Methods("GET")

	// Player limits
	if h.limits != nil {
		protected.HandleFunc("/limits", h.GetLimits).Methods("GET")
		protected.HandleFunc("/limits/{kind}", h.SetLimit).Methods("PUT")
	}

	// Operator switches
	if h.control != nil {
		admin := r.PathPrefix("/admin").Subrouter()
		admin.Use(h.AdminMiddleware)
		admin.HandleFunc("/status", h.SystemStatus).Methods("GET")
		admin.HandleFunc("/gaming/disable", h.DisableGaming).Methods("POST")
		admin.HandleFunc("/gaming/enable", h.EnableGaming).Methods("POST")
		admin.HandleFunc("/games/{id}/disable", h.DisableGame).Methods("POST")
		admin.HandleFunc("/games/{id}/enable", h.EnableGame).Methods("POST")
		admin.HandleFunc("/players/{id}/{action}", h.SetPlayerStatus).Methods("POST")
		if h.trail != nil {
			admin.HandleFunc("/audit", h.AuditEvents).Methods("GET")
		}
	}

	return r
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
