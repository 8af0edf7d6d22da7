package recording

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/balance_recorder/internal/motion"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

// counter returns samples with increasing timestamps.
type counter struct{ n atomic.Int64 }

func (c *counter) Snapshot() motion.Sample {
	v := c.n.Add(1)
	return motion.Sample{Timestamp: v, Accelerometer: motion.Reading{X: float64(v)}}
}

type harness struct {
	sess    *Session
	tickers []*fakeTicker
	appends chan int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{appends: make(chan int, 64)}
	h.sess = New(&counter{},
		WithTickerFactory(func(time.Duration) (Ticker, error) {
			ft := &fakeTicker{ch: make(chan time.Time, 1)}
			h.tickers = append(h.tickers, ft)
			return ft, nil
		}),
		WithOnSample(func(_ motion.Sample, n int) { h.appends <- n }),
	)
	return h
}

func (h *harness) tick(t *testing.T) int {
	t.Helper()
	h.tickers[len(h.tickers)-1].ch <- time.Now()
	select {
	case n := <-h.appends:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not append")
		return 0
	}
}

func TestSession_StartTickStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.sess.Start(context.Background()))
	assert.Equal(t, Active, h.sess.State())

	assert.Equal(t, 1, h.tick(t))
	assert.Equal(t, 2, h.tick(t))
	assert.Equal(t, 3, h.tick(t))

	require.NoError(t, h.sess.Stop())
	assert.Equal(t, Idle, h.sess.State())
	assert.True(t, h.tickers[0].stopped.Load())

	rec := h.sess.Recording()
	require.Len(t, rec, 3)
	for i := 1; i < len(rec); i++ {
		assert.LessOrEqual(t, rec[i-1].Timestamp, rec[i].Timestamp)
	}
}

func TestSession_NoAppendAfterStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.sess.Start(context.Background()))
	h.tick(t)
	require.NoError(t, h.sess.Stop())

	// the sampler goroutine has exited; a late tick sits in the buffer
	h.tickers[0].ch <- time.Now()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.sess.Len())
}

func TestSession_StartWhileActive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.sess.Start(context.Background()))
	defer h.sess.Stop()

	err := h.sess.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Len(t, h.tickers, 1, "must not double-schedule")
}

func TestSession_StopWhileIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	assert.ErrorIs(t, h.sess.Stop(), ErrNotActive)
	assert.Equal(t, Idle, h.sess.State())
	assert.Equal(t, 0, h.sess.Len())
}

func TestSession_StartStopWithoutTicks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.sess.Start(context.Background()))
	require.NoError(t, h.sess.Stop())
	assert.Equal(t, 0, h.sess.Len())
	assert.Empty(t, h.sess.Recording())
}

func TestSession_StartClearsPrevious(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.sess.Start(context.Background()))
	h.tick(t)
	h.tick(t)
	require.NoError(t, h.sess.Stop())
	require.Equal(t, 2, h.sess.Len())

	require.NoError(t, h.sess.Start(context.Background()))
	assert.Equal(t, 0, h.sess.Len())
	assert.Equal(t, 1, h.tick(t))
	require.NoError(t, h.sess.Stop())
}

func TestSession_Clear(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.sess.Start(context.Background()))
	h.tick(t)

	assert.ErrorIs(t, h.sess.Clear(), ErrActive)
	assert.Equal(t, 1, h.sess.Len())

	require.NoError(t, h.sess.Stop())
	require.NoError(t, h.sess.Clear())
	assert.Equal(t, 0, h.sess.Len())
	assert.Equal(t, Idle, h.sess.State())
}

func TestSession_ScheduleFailure(t *testing.T) {
	t.Parallel()

	calls := 0
	fail := false
	var ft *fakeTicker
	sess := New(&counter{}, WithTickerFactory(func(time.Duration) (Ticker, error) {
		calls++
		if fail {
			return nil, errors.New("no timers left")
		}
		ft = &fakeTicker{ch: make(chan time.Time, 1)}
		return ft, nil
	}), WithOnSample(func(motion.Sample, int) {}))

	require.NoError(t, sess.Start(context.Background()))
	ft.ch <- time.Now()
	require.Eventually(t, func() bool { return sess.Len() == 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, sess.Stop())

	fail = true
	err := sess.Start(context.Background())
	assert.ErrorIs(t, err, ErrSchedule)
	assert.Equal(t, Idle, sess.State())
	assert.Equal(t, 1, sess.Len(), "previous recording is kept")
	assert.Equal(t, 2, calls)
}

func TestSession_ContextCancelStops(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.sess.Start(ctx))
	h.tick(t)

	cancel()
	require.Eventually(t, func() bool { return h.sess.State() == Idle }, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, h.sess.Stop(), ErrNotActive)
	assert.Equal(t, 1, h.sess.Len())
}

func TestSession_RealTicker(t *testing.T) {
	t.Parallel()

	sess := New(&counter{}, WithInterval(5*time.Millisecond))
	require.NoError(t, sess.Start(context.Background()))
	require.Eventually(t, func() bool { return sess.Len() >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, sess.Stop())

	n := sess.Len()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sess.Len())
}

func TestNewTimeTicker_RejectsNonPositive(t *testing.T) {
	t.Parallel()

	_, err := NewTimeTicker(0)
	assert.Error(t, err)

	sess := New(&counter{}, WithInterval(-time.Second))
	assert.ErrorIs(t, sess.Start(context.Background()), ErrSchedule)
	assert.Equal(t, Idle, sess.State())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "active", Active.String())
}
