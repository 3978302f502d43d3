package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeventeLantos/flight-sms/internal/model"
	"github.com/LeventeLantos/flight-sms/internal/provider"
	"github.com/LeventeLantos/flight-sms/internal/repo"
)

// memRepo is an in-memory DeliveryRepository with the same
// compare-and-swap semantics as the SQL one.
type memRepo struct {
	mu    sync.Mutex
	items map[string]model.Delivery
	order []string
	seq   int

	gets   atomic.Int64
	lists  atomic.Int64
	writes atomic.Int64

	listErr   error
	writeErrs map[string]error
}

var _ repo.DeliveryRepository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{
		items:     map[string]model.Delivery{},
		writeErrs: map[string]error{},
	}
}

func (m *memRepo) seed(phone, message string) model.Delivery {
	d, _ := m.Create(context.Background(), model.NewDelivery{Phone: phone, Message: message})
	return d
}

func (m *memRepo) calls() int64 {
	return m.gets.Load() + m.lists.Load() + m.writes.Load()
}

func (m *memRepo) get(id string) model.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

func (m *memRepo) Create(_ context.Context, in model.NewDelivery) (model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	d := model.Delivery{
		ID:        fmt.Sprintf("d-%02d", m.seq),
		Phone:     in.Phone,
		Message:   in.Message,
		Sender:    in.Sender,
		Status:    model.Pending,
		CreatedAt: time.Date(2026, 10, 19, 8, 0, m.seq, 0, time.UTC),
	}
	m.items[d.ID] = d
	m.order = append(m.order, d.ID)
	return d, nil
}

func (m *memRepo) Get(_ context.Context, id string) (model.Delivery, error) {
	m.gets.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.items[id]
	if !ok {
		return model.Delivery{}, repo.ErrNotFound
	}
	return d, nil
}

func (m *memRepo) ListPending(_ context.Context, limit int) ([]model.Delivery, error) {
	m.lists.Add(1)
	if m.listErr != nil {
		return nil, m.listErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Delivery
	for _, id := range m.order {
		if d := m.items[id]; d.Status == model.Pending {
			out = append(out, d)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memRepo) ListByStatus(_ context.Context, status model.Status, limit, offset int) ([]model.Delivery, error) {
	m.lists.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Delivery
	for _, id := range m.order {
		if d := m.items[id]; d.Status == status {
			out = append(out, d)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) MarkSent(_ context.Context, id, messageID string, raw json.RawMessage) error {
	return m.transition(id, func(d *model.Delivery) {
		d.Status = model.Sent
		d.MessageID = &messageID
		d.ProviderResponse = raw
	})
}

func (m *memRepo) MarkFailed(_ context.Context, id, reason string) error {
	return m.transition(id, func(d *model.Delivery) {
		d.Status = model.Failed
		d.Error = &reason
	})
}

func (m *memRepo) transition(id string, apply func(d *model.Delivery)) error {
	m.writes.Add(1)
	if err := m.writeErrs[id]; err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.items[id]
	if !ok {
		return repo.ErrNotFound
	}
	if d.Status != model.Pending {
		return fmt.Errorf("%w: status is %s", repo.ErrNotPending, d.Status)
	}
	apply(&d)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	d.ProcessedAt = &now
	m.items[id] = d
	return nil
}

// funcClient adapts a function to service.SendClient.
type funcClient struct {
	calls atomic.Int64
	fn    func(ctx context.Context, req provider.Request) (provider.Response, error)
}

func (c *funcClient) Send(ctx context.Context, req provider.Request) (provider.Response, error) {
	c.calls.Add(1)
	return c.fn(ctx, req)
}

func okClient(id string) *funcClient {
	return &funcClient{fn: func(context.Context, provider.Request) (provider.Response, error) {
		return provider.Response{
			StatusCode: 200,
			MessageID:  id,
			Raw:        json.RawMessage(fmt.Sprintf(`{"Data":{"MessageID":%q}}`, id)),
		}, nil
	}}
}

type recordingCache struct {
	mu     sync.Mutex
	stored map[string]string
}

func (c *recordingCache) StoreSent(_ context.Context, deliveryID, remoteMessageID string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stored == nil {
		c.stored = map[string]string{}
	}
	c.stored[deliveryID] = remoteMessageID
	return nil
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
