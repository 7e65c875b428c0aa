package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every route onto a chi router.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", h.Events)

	// Public endpoints
	r.Post("/auth/challenge", h.Challenge)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/operator/login", h.OperatorLogin)
	r.Post("/orders/hash", h.HashOrder)
	r.Get("/nonces/{account}", h.GetNonce)
	r.Get("/commitments/{account}/{hash}", h.GetCommitment)
	r.Get("/fees/recipients", h.GetFeeRecipients)
	r.Get("/stats", h.GetStats)
	r.Get("/balances/{token}/{account}", h.GetBalance)
	r.Get("/trades", h.GetTrades)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/commitments", h.CommitOrder)
		r.Post("/orders/reveal", h.RevealOrder)
		r.Post("/tokens/{token}/approve", h.Approve)
		r.Post("/trades/settle", h.SettleTrade)

		r.Group(func(r chi.Router) {
			r.Use(h.AdminOnly)
			r.Post("/admin/emergency-stop", h.EmergencyStop)
			r.Post("/admin/resume", h.Resume)
		})
	})
	return r
}
