package sensors

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/balance_recorder/internal/broker"
	"github.com/relabs-tech/balance_recorder/internal/broker/brokertest"
	"github.com/relabs-tech/balance_recorder/internal/motion"
)

type recorded struct {
	kind motion.Kind
	r    motion.Reading
	ts   int64
}

type sink struct {
	mu  sync.Mutex
	got []recorded
}

func (s *sink) cb(kind motion.Kind, r motion.Reading, ts int64) {
	s.mu.Lock()
	s.got = append(s.got, recorded{kind, r, ts})
	s.mu.Unlock()
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func (s *sink) all() []recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recorded(nil), s.got...)
}

func newMQTT(t *testing.T) (*MQTTSource, *brokertest.Client) {
	t.Helper()
	c := brokertest.NewClient()
	src := NewMQTTSource(c, "balance/motion", "balance/orientation")
	src.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return src, c
}

func TestMQTTSource_DeliversDecodedReadings(t *testing.T) {
	t.Parallel()

	src, c := newMQTT(t)
	var s sink
	sub, err := src.Subscribe(s.cb)
	require.NoError(t, err)
	defer sub.Cancel()

	require.True(t, c.Deliver("balance/motion", []byte(`{"acceleration":{"x":1,"y":2},"rotationRate":{"z":3}}`)))
	require.True(t, c.Deliver("balance/orientation", []byte(`{"alpha":10,"beta":20,"gamma":30}`)))

	got := s.all()
	require.Len(t, got, 3)
	assert.Equal(t, recorded{motion.Accelerometer, motion.Reading{X: 1, Y: 2}, 1700000000000}, got[0])
	assert.Equal(t, recorded{motion.Gyroscope, motion.Reading{Z: 3}, 1700000000000}, got[1])
	assert.Equal(t, recorded{motion.Magnetometer, motion.Reading{X: 10, Y: 20, Z: 30}, 1700000000000}, got[2])
}

func TestMQTTSource_DropsMalformedPayload(t *testing.T) {
	t.Parallel()

	src, c := newMQTT(t)
	var s sink
	sub, err := src.Subscribe(s.cb)
	require.NoError(t, err)
	defer sub.Cancel()

	c.Deliver("balance/motion", []byte(`{garbage`))
	assert.Equal(t, 0, s.len())
}

func TestMQTTSource_CancelIsSynchronousAndIdempotent(t *testing.T) {
	t.Parallel()

	src, c := newMQTT(t)
	var s sink
	sub, err := src.Subscribe(s.cb)
	require.NoError(t, err)

	sub.Cancel()
	sub.Cancel()

	assert.ElementsMatch(t, []string{"balance/motion", "balance/orientation"}, c.Unsubscribed())
	assert.False(t, c.Deliver("balance/motion", []byte(`{"acceleration":{"x":1}}`)))
	assert.Equal(t, 0, s.len())
}

func TestMQTTSource_LateMessageAfterCancelIgnored(t *testing.T) {
	t.Parallel()

	src, _ := newMQTT(t)
	var s sink
	sub, err := src.Subscribe(s.cb)
	require.NoError(t, err)

	g := sub.(*guard)
	h := src.handler(g, motion.ChannelMotion)
	sub.Cancel()

	h(nil, &fakeMsg{payload: []byte(`{"acceleration":{"x":1}}`)})
	assert.Equal(t, 0, s.len())
}

type fakeMsg struct {
	brokertest.Message
	payload []byte
}

func (m *fakeMsg) Payload() []byte { return m.payload }
func (m *fakeMsg) Topic() string   { return "balance/motion" }

func TestMQTTSource_SubscribeFailureIsNoop(t *testing.T) {
	t.Parallel()

	src, c := newMQTT(t)
	c.SubscribeErr["balance/motion"] = errors.New("not authorised")

	var s sink
	sub, err := src.Subscribe(s.cb)
	require.NoError(t, err)
	assert.False(t, c.Subscribed("balance/motion"))
	assert.True(t, c.Subscribed("balance/orientation"))

	sub.Cancel()
	assert.Equal(t, []string{"balance/orientation"}, c.Unsubscribed())
}

func TestMQTTSource_ConnectFailure(t *testing.T) {
	t.Parallel()

	src, c := newMQTT(t)
	c.ConnectErr = errors.New("connection refused")

	assert.Equal(t, motion.AllFlags(false), src.CheckAvailability(context.Background()))
	assert.Equal(t, motion.AllFlags(false), src.RequestPermission(context.Background()))

	sub, err := src.Subscribe(func(motion.Kind, motion.Reading, int64) {})
	require.NoError(t, err)
	sub.Cancel()
	assert.Empty(t, c.Unsubscribed())
}

func TestMQTTSource_UnreachableBrokerFailsFast(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	client := broker.NewClient("tcp://"+addr, "balance-test")
	src := NewMQTTSource(client, "balance/motion", "balance/orientation")

	start := time.Now()
	assert.Equal(t, motion.AllFlags(false), src.CheckAvailability(context.Background()))
	assert.Less(t, time.Since(start), 2*connectTimeout)
	assert.False(t, client.IsConnectionOpen())

	// A second query must not mistake a pending retry for a connection.
	assert.Equal(t, motion.AllFlags(false), src.CheckAvailability(context.Background()))
	assert.Equal(t, motion.AllFlags(false), src.RequestPermission(context.Background()))
}

func TestMQTTSource_ResubscribesAfterReconnect(t *testing.T) {
	t.Parallel()

	src, c := newMQTT(t)
	c.OnConnect = src.OnConnect
	var s sink
	sub, err := src.Subscribe(s.cb)
	require.NoError(t, err)

	c.Drop()
	assert.False(t, c.Deliver("balance/motion", []byte(`{"acceleration":{"x":1}}`)))

	c.Restore()
	require.True(t, c.Deliver("balance/motion", []byte(`{"acceleration":{"x":2}}`)))
	require.True(t, c.Deliver("balance/orientation", []byte(`{"alpha":5}`)))
	got := s.all()
	require.Len(t, got, 2)
	assert.Equal(t, motion.Reading{X: 2}, got[0].r)
	assert.Equal(t, motion.Reading{X: 5}, got[1].r)

	// A cancelled subscription is not restored.
	sub.Cancel()
	c.Drop()
	c.Restore()
	assert.False(t, c.Subscribed("balance/motion"))
	assert.False(t, c.Subscribed("balance/orientation"))
}

func TestMQTTSource_PermissionFansOut(t *testing.T) {
	t.Parallel()

	src, _ := newMQTT(t)
	assert.Equal(t, motion.AllFlags(true), src.RequestPermission(context.Background()))
	assert.Equal(t, motion.AllFlags(true), src.CheckAvailability(context.Background()))
}

func TestSubscribe_NilCallback(t *testing.T) {
	t.Parallel()

	src, _ := newMQTT(t)
	_, err := src.Subscribe(nil)
	assert.ErrorIs(t, err, ErrNilCallback)

	_, err = NewMockSource(time.Millisecond).Subscribe(nil)
	assert.ErrorIs(t, err, ErrNilCallback)

	_, err = NewIMUSource(IMUConfig{}).Subscribe(nil)
	assert.ErrorIs(t, err, ErrNilCallback)
}

func TestGuard_NilAndNopCancel(t *testing.T) {
	t.Parallel()

	var g *guard
	assert.NotPanics(t, func() { g.Cancel() })
	assert.NotPanics(t, func() { NopSubscription{}.Cancel() })
}

type fakeIMU struct {
	reads atomic.Int64
	raw   Raw
	err   error
}

func (f *fakeIMU) ReadRaw() (Raw, error) {
	f.reads.Add(1)
	return f.raw, f.err
}

func TestIMUSource_ScalesAndDelivers(t *testing.T) {
	t.Parallel()

	dev := &fakeIMU{raw: Raw{Az: 16384, Gx: 131}}
	src := NewIMUSource(IMUConfig{Interval: time.Millisecond})
	src.open = func(IMUConfig) (RawReader, error) { return dev, nil }

	var s sink
	sub, err := src.Subscribe(s.cb)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.len() >= 6 }, 2*time.Second, time.Millisecond)
	sub.Cancel()

	n := s.len()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, s.len(), "no delivery after Cancel returns")

	got := s.all()
	assert.Equal(t, motion.Accelerometer, got[0].kind)
	assert.InDelta(t, standardGravity, got[0].r.Z, 1e-9)
	assert.Equal(t, motion.Gyroscope, got[1].kind)
	assert.InDelta(t, 1.0, got[1].r.X, 1e-9)
	assert.Equal(t, motion.Magnetometer, got[2].kind)
}

func TestIMUSource_OpenFailure(t *testing.T) {
	t.Parallel()

	src := NewIMUSource(IMUConfig{Interval: time.Millisecond})
	src.open = func(IMUConfig) (RawReader, error) { return nil, errors.New("no spidev") }
	src.permit = func() error { return errors.New("not root") }

	assert.Equal(t, motion.AllFlags(false), src.CheckAvailability(context.Background()))
	assert.Equal(t, motion.AllFlags(false), src.RequestPermission(context.Background()))

	sub, err := src.Subscribe(func(motion.Kind, motion.Reading, int64) {})
	require.NoError(t, err)
	assert.IsType(t, NopSubscription{}, sub)
	sub.Cancel()
}

func TestIMUSource_ReadErrorsSkipped(t *testing.T) {
	t.Parallel()

	dev := &fakeIMU{err: errors.New("spi timeout")}
	src := NewIMUSource(IMUConfig{Interval: time.Millisecond})
	src.open = func(IMUConfig) (RawReader, error) { return dev, nil }
	src.permit = func() error { return nil }

	assert.True(t, src.CheckAvailability(context.Background()).All())
	assert.True(t, src.RequestPermission(context.Background()).All())

	var s sink
	sub, err := src.Subscribe(s.cb)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return dev.reads.Load() >= 3 }, 2*time.Second, time.Millisecond)
	sub.Cancel()
	assert.Equal(t, 0, s.len())
}

func TestMockSource_Frame(t *testing.T) {
	t.Parallel()

	m := NewMockSource(10 * time.Millisecond)
	m.Tremor = 2

	a := m.Frame(0, 0)
	b := m.Frame(0, 1)
	require.Len(t, a, 3)
	assert.Equal(t, 2.0, a[0].Reading.X)
	assert.Equal(t, -2.0, b[0].Reading.X)
	assert.Equal(t, standardGravity, a[0].Reading.Z)
	assert.Equal(t, motion.Magnetometer, a[2].Kind)
}

func TestMockSource_SubscribeCancel(t *testing.T) {
	t.Parallel()

	m := NewMockSource(time.Millisecond)
	assert.True(t, m.CheckAvailability(context.Background()).All())
	assert.True(t, m.RequestPermission(context.Background()).All())

	var s sink
	sub, err := m.Subscribe(s.cb)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.len() >= 9 }, 2*time.Second, time.Millisecond)
	sub.Cancel()
	sub.Cancel()

	n := s.len()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, s.len())
}
