package api

import (
	"net/http"

	"github.com/LeventeLantos/flight-sms/internal/auth"
)

func Router(h *Handler, key *auth.APIKey) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)
	mux.HandleFunc("GET /v1/ready", h.Ready)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	mux.HandleFunc("GET /v1/scheduler/status", requireCaller(h.SchedulerStatus))
	mux.HandleFunc("POST /v1/scheduler/start", requireCaller(h.SchedulerStart))
	mux.HandleFunc("POST /v1/scheduler/stop", requireCaller(h.SchedulerStop))

	// The recovery job checks the caller itself.
	mux.HandleFunc("POST /v1/recovery/run", h.RunRecovery)

	mux.HandleFunc("POST /v1/deliveries", requireCaller(h.CreateDelivery))
	mux.HandleFunc("GET /v1/deliveries", requireCaller(h.ListDeliveries))
	mux.HandleFunc("GET /v1/deliveries/{id}", requireCaller(h.GetDelivery))
	mux.HandleFunc("GET /v1/deliveries/{id}/receipt", requireCaller(h.GetReceipt))

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("flight-sms"))
	})

	return WithRequestID(Logging(Authenticate(key)(mux)))
}
