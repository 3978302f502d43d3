package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/LeventeLantos/flight-sms/internal/cache"
	"github.com/LeventeLantos/flight-sms/internal/model"
	"github.com/LeventeLantos/flight-sms/internal/repo"
	"github.com/LeventeLantos/flight-sms/internal/scheduler"
	"github.com/LeventeLantos/flight-sms/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 64 << 10
)

type Recoverer interface {
	Run(ctx context.Context) (service.BatchResult, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type SentLookup interface {
	LookupSent(ctx context.Context, deliveryID string) (cache.SentValue, error)
}

type Handler struct {
	sched      *scheduler.Scheduler
	deliveries repo.DeliveryRepository
	recovery   Recoverer

	db      Pinger
	sent    SentLookup
	metrics http.Handler
}

func NewHandler(s *scheduler.Scheduler, r repo.DeliveryRepository, rec Recoverer, db Pinger) *Handler {
	return &Handler{sched: s, deliveries: r, recovery: rec, db: db}
}

// WithSentLookup enables the cache fast path of the receipt endpoint.
func (h *Handler) WithSentLookup(l SentLookup) *Handler {
	h.sent = l
	return h
}

func (h *Handler) WithMetrics(m http.Handler) *Handler {
	h.metrics = m
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// RunRecovery runs one recovery batch on behalf of the caller. The batch
// keeps going if the client disconnects.
func (h *Handler) RunRecovery(w http.ResponseWriter, r *http.Request) {
	res, err := h.recovery.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	var in model.NewDelivery
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeError(w, r, badInput("invalid request body: "+err.Error()))
		return
	}

	d, err := h.deliveries.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, goerrors.Wrap(err, goerrors.CategoryInternal, "create delivery").
			WithCode(http.StatusInternalServerError).
			WithTextCode(textCodeInternal))
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	d, err := h.deliveries.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, lookupError(err, id))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type receipt struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	SentAt    time.Time `json:"sentAt"`
	Source    string    `json:"source"`
}

// GetReceipt answers "was this delivery sent, and as what" from the sent
// cache when possible, falling back to the store.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if h.sent != nil {
		v, err := h.sent.LookupSent(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, receipt{ID: id, MessageID: v.RemoteMessageID, SentAt: v.SentAt, Source: "cache"})
			return
		}
	}

	d, err := h.deliveries.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, lookupError(err, id))
		return
	}
	if d.Status != model.Sent || d.MessageID == nil || d.ProcessedAt == nil {
		writeError(w, r, goerrors.New("delivery has not been sent", goerrors.CategoryNotFound).
			WithCode(http.StatusNotFound).
			WithTextCode(service.TextCodeNotFound).
			WithMetadata(map[string]any{"delivery_id": id, "status": string(d.Status)}))
		return
	}
	writeJSON(w, http.StatusOK, receipt{ID: id, MessageID: *d.MessageID, SentAt: *d.ProcessedAt, Source: "store"})
}

func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := model.Status(q.Get("status"))
	if status == "" {
		status = model.Sent
	}
	if !status.Valid() {
		writeError(w, r, badInput("unknown status "+strconv.Quote(string(status))))
		return
	}

	limit := parseInt(q.Get("limit"), defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := parseInt(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	items, err := h.deliveries.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, r, goerrors.Wrap(err, goerrors.CategoryInternal, "list deliveries").
			WithCode(http.StatusInternalServerError).
			WithTextCode(textCodeInternal))
		return
	}
	if items == nil {
		items = []model.Delivery{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func lookupError(err error, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return goerrors.Wrap(err, goerrors.CategoryNotFound, "delivery not found").
			WithCode(http.StatusNotFound).
			WithTextCode(service.TextCodeNotFound).
			WithMetadata(map[string]any{"delivery_id": id})
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "load delivery").
		WithCode(http.StatusInternalServerError).
		WithTextCode(textCodeInternal)
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
