package labelary

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zplmerge/internal/pack"
	"zplmerge/internal/zpl"
)

var testPage = Page{WidthIn: 4, HeightIn: 6, DPI: 203}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// newTestClient returns a client without throttling whose sleeps are recorded.
func newTestClient(baseURL string, maxRetries int) (*Client, *sleepRecorder) {
	rec := &sleepRecorder{}
	c := New(Options{BaseURL: baseURL, MaxRetries: maxRetries, Throttle: NewFixedDelay(0), Timeout: 2 * time.Second})
	c.sleep = rec.sleep
	c.jitter = func() float64 { return 0.99 }
	return c, rec
}

func testBatch() pack.Batch {
	return pack.NewBatch(1, []zpl.Block{
		{Index: 1, Text: "^XA^FDa^FS^XZ", Quantity: 1},
		{Index: 2, Text: "^XA^FDb^FS^XZ", Quantity: 1},
	})
}

// scriptedServer answers with the given statuses in order, then 200.
func scriptedServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if n <= len(statuses) {
			http.Error(w, "scripted failure", statuses[n-1])
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRender(t *testing.T) {
	t.Run("Should send the joined batch to the density and size endpoint", func(t *testing.T) {
		var gotPath, gotAccept, gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAccept = r.Header.Get("Accept")
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			_, _ = w.Write([]byte("%PDF-1.4 fake"))
		}))
		defer srv.Close()

		c, _ := newTestClient(srv.URL, 5)
		res := c.Render(context.Background(), Request{Batch: testBatch(), Page: Page{WidthIn: 4, HeightIn: 6.5, DPI: 300}})
		require.True(t, res.OK(), "failure: %+v", res.Failure)
		assert.Equal(t, "/v1/printers/12dpmm/labels/4x6.5/", gotPath)
		assert.Equal(t, "application/pdf", gotAccept)
		assert.Equal(t, "^XA^FDa^FS^XZ\n^XA^FDb^FS^XZ", gotBody)
		assert.Equal(t, []byte("%PDF-1.4 fake"), res.Document)
		assert.Equal(t, 1, res.Attempts)
	})

	t.Run("Should retry server errors with growing backoff until success", func(t *testing.T) {
		srv, calls := scriptedServer(t, 500, 500, 500)
		c, rec := newTestClient(srv.URL, 5)

		res := c.Render(context.Background(), Request{Batch: testBatch(), Page: testPage})
		require.True(t, res.OK(), "failure: %+v", res.Failure)
		assert.Equal(t, 4, res.Attempts)
		assert.EqualValues(t, 4, calls.Load())

		delays := rec.recorded()
		require.Len(t, delays, 3)
		for i := 1; i < len(delays); i++ {
			assert.Greater(t, delays[i], delays[i-1])
		}
		for i, d := range delays {
			attempt := i + 1
			lower := time.Duration(1<<i) * time.Second
			upper := lower + time.Duration(float64(attempt)*0.5*float64(time.Second))
			assert.GreaterOrEqual(t, d, lower)
			assert.Less(t, d, upper)
		}
	})

	t.Run("Should treat 429 as transient", func(t *testing.T) {
		srv, calls := scriptedServer(t, http.StatusTooManyRequests)
		c, _ := newTestClient(srv.URL, 5)
		res := c.Render(context.Background(), Request{Batch: testBatch(), Page: testPage})
		require.True(t, res.OK())
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("Should stop after one attempt on 413", func(t *testing.T) {
		srv, calls := scriptedServer(t, http.StatusRequestEntityTooLarge)
		c, rec := newTestClient(srv.URL, 5)

		res := c.Render(context.Background(), Request{Batch: testBatch(), Page: testPage})
		require.False(t, res.OK())
		assert.Equal(t, KindHard, res.Failure.Kind)
		assert.Equal(t, http.StatusRequestEntityTooLarge, res.Failure.Status)
		assert.Contains(t, res.Failure.Message, "scripted failure")
		assert.Equal(t, 1, res.Attempts)
		assert.EqualValues(t, 1, calls.Load())
		assert.Empty(t, rec.recorded())
	})

	t.Run("Should report exhausted retries distinctly", func(t *testing.T) {
		srv, calls := scriptedServer(t, 503, 503, 503, 503)
		c, rec := newTestClient(srv.URL, 3)

		res := c.Render(context.Background(), Request{Batch: testBatch(), Page: testPage})
		require.False(t, res.OK())
		assert.Equal(t, KindRetriesExhausted, res.Failure.Kind)
		assert.Equal(t, 503, res.Failure.Status)
		assert.Equal(t, 3, res.Attempts)
		assert.EqualValues(t, 3, calls.Load())
		assert.Len(t, rec.recorded(), 2, "no sleep after the final attempt")
	})

	t.Run("Should retry transport errors", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c, rec := newTestClient(url, 2)
		res := c.Render(context.Background(), Request{Batch: testBatch(), Page: testPage})
		require.False(t, res.OK())
		assert.Equal(t, KindRetriesExhausted, res.Failure.Kind)
		assert.Equal(t, 0, res.Failure.Status)
		assert.NotEmpty(t, res.Failure.Message)
		assert.Len(t, rec.recorded(), 1)
	})

	t.Run("Should report attempts and retries through hooks", func(t *testing.T) {
		srv, _ := scriptedServer(t, 502)
		c, _ := newTestClient(srv.URL, 5)
		var attempts []Attempt
		var retries []Retry
		c.SetHooks(Hooks{
			OnAttempt: func(a Attempt) { attempts = append(attempts, a) },
			OnRetry:   func(r Retry) { retries = append(retries, r) },
		})

		res := c.Render(context.Background(), Request{Batch: testBatch(), Page: testPage})
		require.True(t, res.OK())
		require.Len(t, attempts, 2)
		assert.Equal(t, Attempt{Batch: 1, Number: 2, Max: 5}, attempts[1])
		require.Len(t, retries, 1)
		assert.Equal(t, 502, retries[0].Status)
		assert.Equal(t, 1, retries[0].Attempt)
	})

	t.Run("Should not call the renderer once the context is canceled", func(t *testing.T) {
		srv, calls := scriptedServer(t)
		c, _ := newTestClient(srv.URL, 5)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := c.Render(ctx, Request{Batch: testBatch(), Page: testPage})
		require.False(t, res.OK())
		assert.Equal(t, KindCanceled, res.Failure.Kind)
		assert.EqualValues(t, 0, calls.Load())
	})

	t.Run("Should stop when canceled while a retry is scheduled", func(t *testing.T) {
		srv, calls := scriptedServer(t, http.StatusServiceUnavailable)
		c, rec := newTestClient(srv.URL, 5)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		c.SetHooks(Hooks{OnRetry: func(Retry) { cancel() }})

		res := c.Render(ctx, Request{Batch: testBatch(), Page: testPage})
		require.False(t, res.OK())
		assert.Equal(t, KindCanceled, res.Failure.Kind)
		assert.Equal(t, 1, res.Attempts)
		assert.EqualValues(t, 1, calls.Load())
		assert.Empty(t, rec.recorded(), "no backoff sleep after cancellation")
	})

	t.Run("Should stop when canceled during the throttle wait", func(t *testing.T) {
		srv, calls := scriptedServer(t)
		// one call every ten seconds
		c := New(Options{BaseURL: srv.URL, Throttle: NewFixedDelay(0.1), Timeout: 2 * time.Second})
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		start := time.Now()
		res := c.Render(ctx, Request{Batch: testBatch(), Page: testPage})
		require.False(t, res.OK())
		assert.Equal(t, KindCanceled, res.Failure.Kind)
		assert.Equal(t, 0, res.Attempts)
		assert.EqualValues(t, 0, calls.Load())
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("Should reject an unsupported resolution without sending it", func(t *testing.T) {
		srv, calls := scriptedServer(t)
		c, _ := newTestClient(srv.URL, 5)
		res := c.Render(context.Background(), Request{Batch: testBatch(), Page: Page{WidthIn: 4, HeightIn: 6, DPI: 150}})
		require.False(t, res.OK())
		assert.Equal(t, KindInvalidRequest, res.Failure.Kind)
		assert.False(t, res.Failure.Transport())
		assert.NotContains(t, res.Failure.Error(), "transport error")
		assert.EqualValues(t, 0, calls.Load())
	})
}

func TestFailureError(t *testing.T) {
	t.Run("Should mark exhausted transport failures", func(t *testing.T) {
		f := Failure{Kind: KindRetriesExhausted, Message: "connection refused"}
		assert.True(t, f.Transport())
		assert.Equal(t, "retries_exhausted: transport error: connection refused", f.Error())
	})

	t.Run("Should report the HTTP status when there is one", func(t *testing.T) {
		f := Failure{Kind: KindHard, Status: 413, Message: "too large"}
		assert.False(t, f.Transport())
		assert.Equal(t, "hard_failure: http 413: too large", f.Error())
	})

	t.Run("Should not call a cancellation a transport error", func(t *testing.T) {
		f := Failure{Kind: KindCanceled, Message: "context canceled"}
		assert.Equal(t, "canceled: context canceled", f.Error())
	})
}

func TestThrottle(t *testing.T) {
	t.Run("Should wait before every call including the first", func(t *testing.T) {
		srv, _ := scriptedServer(t)
		rec := &sleepRecorder{}
		throttle := NewFixedDelay(2)
		throttle.sleep = rec.sleep
		c := New(Options{BaseURL: srv.URL, Throttle: throttle})

		for i := 0; i < 2; i++ {
			require.True(t, c.Render(context.Background(), Request{Batch: testBatch(), Page: testPage}).OK())
		}
		assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, rec.recorded())
	})

	t.Run("Should admit the first token-bucket call immediately", func(t *testing.T) {
		tb := NewTokenBucket(0.001)
		require.NoError(t, tb.Wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.Error(t, tb.Wait(ctx))
	})

	t.Run("Should build throttles by name", func(t *testing.T) {
		th, err := NewThrottle(ThrottleFixed, 4)
		require.NoError(t, err)
		assert.Equal(t, 250*time.Millisecond, th.(*FixedDelay).Delay())

		_, err = NewThrottle(ThrottleTokenBucket, 4)
		require.NoError(t, err)

		_, err = NewThrottle("leaky", 4)
		assert.Error(t, err)
	})
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(1, time.Minute, 0))
	assert.Equal(t, 4*time.Second, backoffDelay(3, time.Minute, 0))
	assert.Equal(t, time.Minute, backoffDelay(7, time.Minute, 0))
	assert.Equal(t, time.Minute, backoffDelay(80, time.Minute, 0))
	assert.Equal(t, 2*time.Second+time.Second, backoffDelay(2, time.Minute, 1))

	b := newBackoff(3, time.Minute, func() float64 { return 0 })
	d1, stop := b.Next()
	assert.False(t, stop)
	assert.Equal(t, time.Second, d1)
	d2, stop := b.Next()
	assert.False(t, stop)
	assert.Equal(t, 2*time.Second, d2)
	_, stop = b.Next()
	assert.True(t, stop)
}

func TestDensityFor(t *testing.T) {
	for dpi, want := range map[int]int{203: 8, 300: 12, 600: 24} {
		got, err := DensityFor(dpi)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := DensityFor(72)
	assert.ErrorIs(t, err, ErrUnsupportedDPI)
}
