package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func runBus(t *testing.T, b *Bus) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("bus did not stop")
		}
	})
	return cancel
}

func TestBus_DeliversToSubscribers(t *testing.T) {
	b := NewBus(Config{}, nil, testLogger())

	var mu sync.Mutex
	var got []Event
	b.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	runBus(t, b)
	b.TaskUpdated("p1", "t1")
	b.TaskUpdated("p1", "t2")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "t1", got[0].TaskID)
	assert.Equal(t, "p1", got[0].ProjectID)
	assert.NotZero(t, got[0].At)
}

func TestBus_PostsWebhook(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	b := NewBus(Config{WebhookURLs: []string{srv.URL}}, nil, testLogger())
	runBus(t, b)

	b.TaskUpdated("p1", "t1")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestBus_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewBus(Config{WebhookURLs: []string{srv.URL}, Retries: 3}, nil, testLogger())
	runBus(t, b)

	b.TaskUpdated("p1", "t1")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestBus_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBus(Config{WebhookURLs: []string{srv.URL}, Retries: 3}, nil, testLogger())
	runBus(t, b)

	b.TaskUpdated("p1", "t1")

	// Give any erroneous retry a chance to land before asserting.
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBus_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus(Config{QueueSize: 1}, nil, testLogger())
	// Not running: the queue fills and further sends must return immediately.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.TaskUpdated("p1", "t1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TaskUpdated blocked on a full queue")
	}
}

func TestBus_DrainsQueueOnShutdown(t *testing.T) {
	b := NewBus(Config{}, nil, testLogger())

	var count atomic.Int32
	b.Subscribe(func(Event) { count.Add(1) })

	for i := 0; i < 5; i++ {
		b.TaskUpdated("p1", "t1")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	assert.Equal(t, int32(5), count.Load())
}
