package live

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/balance_recorder/internal/motion"
	"github.com/relabs-tech/balance_recorder/internal/sensors"
)

func TestStore_UpdateGyroKeepsOthers(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Update(motion.Accelerometer, motion.Reading{X: 1, Y: 2, Z: 3}, 100)
	s.Update(motion.Magnetometer, motion.Reading{X: 40}, 110)
	before := s.Snapshot()

	s.Update(motion.Gyroscope, motion.Reading{Z: 0.5}, 120)
	after := s.Snapshot()

	assert.Equal(t, before.Accelerometer, after.Accelerometer)
	assert.Equal(t, before.Magnetometer, after.Magnetometer)
	assert.Equal(t, motion.Reading{Z: 0.5}, after.Gyroscope)
	assert.Equal(t, int64(120), after.Timestamp)
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Update(motion.Accelerometer, motion.Reading{X: 1}, 1)
	snap := s.Snapshot()

	s.Update(motion.Accelerometer, motion.Reading{X: 2}, 2)

	assert.Equal(t, 1.0, snap.Accelerometer.X)
	assert.Equal(t, int64(1), snap.Timestamp)
}

func TestStore_IgnoresUnknownKind(t *testing.T) {
	t.Parallel()

	s := NewStore()
	before := s.Snapshot()
	s.Update(motion.Kind("pressure"), motion.Reading{X: 9}, before.Timestamp+1)

	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, motion.Flags{}, s.Received())
}

func TestStore_Received(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var h sensors.Callback = s.Handler()
	h(motion.Gyroscope, motion.Reading{}, 5)

	assert.Equal(t, motion.Flags{Gyroscope: true}, s.Received())
}

func TestStore_ConcurrentWriters(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var wg sync.WaitGroup
	for _, k := range motion.Kinds {
		wg.Add(1)
		go func(k motion.Kind) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Update(k, motion.Reading{X: float64(i)}, int64(i))
				_ = s.Snapshot()
			}
		}(k)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, 499.0, snap.Accelerometer.X)
	assert.Equal(t, 499.0, snap.Gyroscope.X)
	assert.Equal(t, 499.0, snap.Magnetometer.X)
	assert.True(t, s.Received().All())
}
