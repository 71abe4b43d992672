package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"logdash/internal/auth"
	"logdash/internal/connectors/backend"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSource answers by path; unknown paths fail like a refused connection.
type fakeSource struct {
	mu      sync.Mutex
	bodies  map[string]string
	errs    map[string]error
	panics  map[string]bool
	delay   map[string]time.Duration
	calls   []string
	active  int32
	maxSeen int32
}

func (s *fakeSource) Get(ctx context.Context, path string) ([]byte, error) {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		seen := atomic.LoadInt32(&s.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&s.maxSeen, seen, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, path)
	body, ok := s.bodies[path]
	err := s.errs[path]
	shouldPanic := s.panics[path]
	delay := s.delay[path]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if shouldPanic {
		panic("source exploded")
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("connection refused")
	}
	return []byte(body), nil
}

func healthyBodies() map[string]string {
	table := `{"columns":["Name","Count"],"rows":[["x",1]]}`
	out := map[string]string{}
	for _, ep := range DefaultCatalog() {
		out[ep.Path] = table
	}
	out["/request-status"] = `{"title":"Request Status","columns":["Status","Count"],"rows":[["Allowed",9],["Blocked",1]]}`
	out["/activity-timeline"] = `{"title":"Activity Timeline","data":[{"time":"00:00","count":3},{"time":"00:01","count":5}]}`
	return out
}

func TestFetchAll_AllSucceed(t *testing.T) {
	src := &fakeSource{bodies: healthyBodies()}
	f := NewFetcher(src, FetcherOptions{}, zap.NewNop())

	batch := f.FetchAll(context.Background(), DefaultCatalog())

	require.Equal(t, 9, batch.Len())
	assert.NotEqual(t, uuid.Nil, batch.ID)
	assert.Equal(t, 0, batch.FailedCount())
	assert.Equal(t, KindTabular, batch.Results[3].Kind)
	assert.Equal(t, KindTimeline, batch.Results[8].Kind)
	assert.False(t, batch.FinishedAt.Before(batch.StartedAt))

	wantOrder := make([]string, 0, 9)
	for _, ep := range DefaultCatalog() {
		wantOrder = append(wantOrder, ep.Path)
	}
	assert.Equal(t, wantOrder, src.calls, "sequential fetch must follow catalog order")
}

func TestFetchAll_IsolatesEachFailure(t *testing.T) {
	endpoints := DefaultCatalog()
	for i := range endpoints {
		t.Run(endpoints[i].Path, func(t *testing.T) {
			bodies := healthyBodies()
			src := &fakeSource{
				bodies: bodies,
				errs:   map[string]error{endpoints[i].Path: errors.New("network down")},
			}
			batch := NewFetcher(src, FetcherOptions{}, nil).FetchAll(context.Background(), endpoints)

			require.Equal(t, len(endpoints), batch.Len())
			for j, res := range batch.Results {
				if j == i {
					assert.Equal(t, KindFailed, res.Kind)
					assert.Equal(t, TitleError, res.Title)
					continue
				}
				assert.False(t, res.Failed(), "position %d should be unaffected", j)
			}
		})
	}
}

func TestFetchAll_OneResultPerEndpointUnderTotalFailure(t *testing.T) {
	for n := 0; n <= 12; n++ {
		endpoints := make([]Endpoint, n)
		for i := range endpoints {
			endpoints[i] = Endpoint{Role: RoleOther, Path: "/missing", Title: "Missing"}
		}
		batch := NewFetcher(&fakeSource{}, FetcherOptions{Concurrency: 3}, nil).FetchAll(context.Background(), endpoints)
		require.Equal(t, n, batch.Len())
		assert.Equal(t, n, batch.FailedCount())
	}
}

func TestFetchAll_MalformedAndPanicBecomeFailedResults(t *testing.T) {
	bodies := healthyBodies()
	bodies["/check-domains"] = `{"foo":"bar"}`
	src := &fakeSource{bodies: bodies, panics: map[string]bool{"/burstActivity": true}}

	batch := NewFetcher(src, FetcherOptions{}, nil).FetchAll(context.Background(), DefaultCatalog())

	assert.Equal(t, TitleMalformed, batch.Results[2].Title)
	assert.Equal(t, CauseMalformed, batch.Results[2].Cause)
	assert.Equal(t, TitleError, batch.Results[6].Title)
	assert.Contains(t, batch.Results[6].Reason, "source exploded")
	assert.Equal(t, KindTabular, batch.Results[7].Kind, "positions after a panic are still fetched")
}

func TestFetchAll_ConcurrentPreservesOrder(t *testing.T) {
	bodies := map[string]string{}
	delays := map[string]time.Duration{}
	endpoints := make([]Endpoint, 6)
	for i := range endpoints {
		path := "/ep" + string(rune('a'+i))
		endpoints[i] = Endpoint{Role: RoleOther, Path: path, Title: path}
		bodies[path] = `{"title":"` + path + `","columns":["c"],"rows":[]}`
		delays[path] = time.Duration(len(endpoints)-i) * 5 * time.Millisecond
	}
	src := &fakeSource{bodies: bodies, delay: delays}

	batch := NewFetcher(src, FetcherOptions{Concurrency: 3}, nil).FetchAll(context.Background(), endpoints)

	for i, res := range batch.Results {
		assert.Equal(t, endpoints[i].Path, res.Title)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&src.maxSeen), int32(3))
}

func TestFetchAll_PerCallTimeout(t *testing.T) {
	bodies := healthyBodies()
	src := &fakeSource{bodies: bodies, delay: map[string]time.Duration{"/top-referers": time.Second}}

	batch := NewFetcher(src, FetcherOptions{Timeout: 20 * time.Millisecond}, nil).FetchAll(context.Background(), DefaultCatalog())

	assert.Equal(t, TitleError, batch.Results[0].Title)
	assert.Equal(t, CauseNetwork, batch.Results[0].Cause)
	assert.False(t, batch.Results[1].Failed())
}

func TestFetchAll_CanceledContextFillsEveryPosition(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{bodies: healthyBodies()}

	batch := NewFetcher(src, FetcherOptions{}, nil).FetchAll(ctx, DefaultCatalog())

	require.Equal(t, 9, batch.Len())
	for _, res := range batch.Results {
		assert.Equal(t, CauseCanceled, res.Cause)
	}
	assert.Empty(t, src.calls)
}

func TestFetchAll_ObserverSeesEveryPosition(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]Kind{}
	obs := ObserverFunc(func(_ context.Context, _ uuid.UUID, index int, _ Endpoint, res Result, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		seen[index] = res.Kind
	})
	bodies := healthyBodies()
	delete(bodies, "/429-error-ips")

	NewFetcher(&fakeSource{bodies: bodies}, FetcherOptions{Observer: obs, Concurrency: 4}, nil).
		FetchAll(context.Background(), DefaultCatalog())

	assert.Len(t, seen, 9)
	assert.Equal(t, KindFailed, seen[5])
}

func TestFetchAll_AgainstBackendClient(t *testing.T) {
	var tokenCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/activity-timeline":
			_, _ = w.Write([]byte(`{"data":[{"time":"12:00","count":4}]}`))
		case "/get-data-exfiltration":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`{"columns":["k","v"],"rows":[["a",1]]}`))
		}
	}))
	defer srv.Close()

	tokens := auth.Func(func(context.Context) (string, error) {
		n := atomic.AddInt32(&tokenCalls, 1)
		return "tok-" + string(rune('0'+n)), nil
	})
	client := backend.NewClient(srv.URL, tokens, time.Second)

	batch := NewFetcher(client, FetcherOptions{}, nil).FetchAll(context.Background(), DefaultCatalog())

	assert.Equal(t, int32(9), atomic.LoadInt32(&tokenCalls), "one token per call")
	assert.Equal(t, CauseHTTPStatus, batch.Results[7].Cause)
	assert.Equal(t, KindTimeline, batch.Results[8].Kind)
	assert.Equal(t, 1, batch.FailedCount())
}
