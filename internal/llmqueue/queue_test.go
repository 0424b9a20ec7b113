package llmqueue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jafechang/atlas/internal/domain/llmtask"
	"github.com/jafechang/atlas/internal/domain/task"
	"github.com/jafechang/atlas/internal/llmqueue"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestSubmit_RespectsPriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	var closeOnce sync.Once

	opts := llmqueue.DefaultOptions()
	opts.InitialConcurrency = 1
	q := llmqueue.New(opts, nil, nil)
	q.RegisterHandler(llmtask.TypeGenerate, func(ctx context.Context, payload any) (any, error) {
		mu.Lock()
		order = append(order, payload.(string))
		ready := len(order) == 3
		mu.Unlock()
		if ready {
			closeOnce.Do(func() { close(done) })
		}
		return nil, nil
	})

	_ = q.Submit(&llmtask.Task{ID: "1", Type: llmtask.TypeGenerate, Priority: task.PriorityLow, Payload: "low"})
	_ = q.Submit(&llmtask.Task{ID: "2", Type: llmtask.TypeGenerate, Priority: task.PriorityUrgent, Payload: "urgent"})
	_ = q.Submit(&llmtask.Task{ID: "3", Type: llmtask.TypeGenerate, Priority: task.PriorityNormal, Payload: "normal"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go q.Run(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tasks to run")
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "urgent" || order[1] != "normal" || order[2] != "low" {
		t.Errorf("expected priority order [urgent normal low], got %v", order)
	}
}

func TestDispatch_CacheHitSkipsHandler(t *testing.T) {
	var calls int
	var mu sync.Mutex

	c := newMemCache()
	opts := llmqueue.DefaultOptions()
	results := make(chan *llmtask.Task, 2)
	q := llmqueue.New(opts, c, func(_ context.Context, t *llmtask.Task) {
		if t.Result != nil || t.Error != "" {
			results <- t
		}
	})
	q.RegisterHandler(llmtask.TypeEmbed, func(ctx context.Context, payload any) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return []float64{1, 2, 3}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go q.Run(ctx)

	_ = q.Submit(&llmtask.Task{ID: "1", Type: llmtask.TypeEmbed, Payload: "hello", CacheKey: "hash-of-hello"})
	<-results

	_ = q.Submit(&llmtask.Task{ID: "2", Type: llmtask.TypeEmbed, Payload: "hello", CacheKey: "hash-of-hello"})
	second := <-results

	if second.Result == nil {
		t.Fatal("expected second submission to resolve from cache")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("expected handler called exactly once, got %d", calls)
	}
}

func TestDispatch_LateTaskNeverDispatched(t *testing.T) {
	var called bool
	results := make(chan *llmtask.Task, 1)

	opts := llmqueue.DefaultOptions()
	q := llmqueue.New(opts, nil, func(_ context.Context, t *llmtask.Task) {
		results <- t
	})
	q.RegisterHandler(llmtask.TypeGenerate, func(ctx context.Context, payload any) (any, error) {
		called = true
		return "ok", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go q.Run(ctx)

	_ = q.Submit(&llmtask.Task{
		ID:       "1",
		Type:     llmtask.TypeGenerate,
		Deadline: time.Now().Add(-time.Minute),
	})

	select {
	case tk := <-results:
		if tk.Error == "" {
			t.Errorf("expected a late task to surface an error, got %+v", tk)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for late-task transition")
	}
	if called {
		t.Error("expected handler to never run for a late task")
	}
}

func TestResize_BoundsThenExpandsConcurrentDispatch(t *testing.T) {
	inFlight := make(chan struct{}, 10)
	release := make(chan struct{})

	opts := llmqueue.DefaultOptions()
	opts.InitialConcurrency = 1
	q := llmqueue.New(opts, nil, nil)
	q.RegisterHandler(llmtask.TypeGenerate, func(ctx context.Context, payload any) (any, error) {
		inFlight <- struct{}{}
		<-release
		<-inFlight
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go q.Run(ctx)

	for i := 0; i < 3; i++ {
		_ = q.Submit(&llmtask.Task{ID: string(rune('a' + i)), Type: llmtask.TypeGenerate})
	}
	time.Sleep(100 * time.Millisecond)
	if len(inFlight) != 1 {
		t.Errorf("expected exactly 1 in-flight dispatch at concurrency=1, got %d", len(inFlight))
	}

	q.Resize(3)
	close(release)

	time.Sleep(100 * time.Millisecond)
	if q.Len() != 0 {
		t.Errorf("expected all tasks to drain after resizing up, got %d still pending", q.Len())
	}
}

func TestSubmit_BoundedQueueReturnsBackpressure(t *testing.T) {
	opts := llmqueue.Options{MaxSize: 1}
	q := llmqueue.New(opts, nil, nil)

	if err := q.Submit(&llmtask.Task{ID: "1", Type: llmtask.TypeGenerate}); err != nil {
		t.Fatalf("unexpected error on first submit: %v", err)
	}
	if err := q.Submit(&llmtask.Task{ID: "2", Type: llmtask.TypeGenerate}); err == nil {
		t.Fatal("expected backpressure on a bounded, full queue")
	}
}
