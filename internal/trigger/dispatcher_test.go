package trigger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/flight-sms/internal/metrics"
	"github.com/LeventeLantos/flight-sms/internal/model"
)

type recordingHandler struct {
	mu    sync.Mutex
	seen  []string
	block chan struct{}
	fn    func(id string) (model.Outcome, error)
}

func (h *recordingHandler) Handle(_ context.Context, id string) (model.Outcome, error) {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.seen = append(h.seen, id)
	h.mu.Unlock()
	if h.fn != nil {
		return h.fn(id)
	}
	return model.Outcome{DeliveryID: id, Status: model.Sent}, nil
}

func (h *recordingHandler) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Errorf("dispatcher did not stop")
		}
	})
}

func TestDispatcher_HandlesQueuedIDs(t *testing.T) {
	h := &recordingHandler{}
	d := NewDispatcher(h, 2, 8)
	runDispatcher(t, d)

	require.True(t, d.Enqueue("d-1"))
	require.True(t, d.Enqueue(" d-2 "))

	require.Eventually(t, func() bool { return len(h.ids()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"d-1", "d-2"}, h.ids())
}

func TestDispatcher_RejectsBlankID(t *testing.T) {
	d := NewDispatcher(&recordingHandler{}, 1, 1)
	assert.False(t, d.Enqueue(""))
	assert.False(t, d.Enqueue("   "))
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// No Run: nothing drains the queue.
	d := NewDispatcher(&recordingHandler{}, 1, 2).WithMetrics(m)

	assert.True(t, d.Enqueue("d-1"))
	assert.True(t, d.Enqueue("d-2"))
	assert.False(t, d.Enqueue("d-3"))

	expected := `
# HELP flight_sms_trigger_dropped_total Created deliveries not queued because the trigger queue was full.
# TYPE flight_sms_trigger_dropped_total counter
flight_sms_trigger_dropped_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "flight_sms_trigger_dropped_total"))
}

func TestDispatcher_OnCreateOnlyQueuesPending(t *testing.T) {
	h := &recordingHandler{}
	d := NewDispatcher(h, 1, 4)
	runDispatcher(t, d)

	d.OnCreate(context.Background(), model.Delivery{ID: "done", Status: model.Sent})
	d.OnCreate(context.Background(), model.Delivery{ID: "new", Status: model.Pending})

	require.Eventually(t, func() bool { return len(h.ids()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"new"}, h.ids())
}

func TestDispatcher_SurvivesHandlerFailures(t *testing.T) {
	h := &recordingHandler{fn: func(id string) (model.Outcome, error) {
		switch id {
		case "err":
			return model.Outcome{}, errors.New("delivery not found")
		case "panic":
			panic("boom")
		}
		return model.Outcome{DeliveryID: id, Status: model.Sent}, nil
	}}
	d := NewDispatcher(h, 1, 4)
	runDispatcher(t, d)

	d.Enqueue("err")
	d.Enqueue("panic")
	d.Enqueue("ok")

	require.Eventually(t, func() bool { return len(h.ids()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"err", "panic", "ok"}, h.ids())
}

func TestDispatcher_StopsWithQueuedWork(t *testing.T) {
	h := &recordingHandler{block: make(chan struct{})}
	d := NewDispatcher(h, 1, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Enqueue("d-1")
	d.Enqueue("d-2")

	cancel()
	close(h.block)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not stop")
	}
	assert.LessOrEqual(t, len(h.ids()), 2)
}
