// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/balance_recorder/internal/motion"
	"github.com/relabs-tech/balance_recorder/internal/orientation"
)

// MockSource generates smooth synthetic motion for development without a
// device. Sway adds a slow lateral lean in m/s², Tremor a sample-to-sample
// alternation on the X axis.
type MockSource struct {
	Interval time.Duration
	Sway     float64
	Tremor   float64

	start time.Time
	mu    sync.Mutex
	n     int
	pose  orientation.Pose
}

// NewMockSource creates a mock source emitting every interval.
func NewMockSource(interval time.Duration) *MockSource {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	return &MockSource{Interval: interval, start: time.Now()}
}

func (m *MockSource) CheckAvailability(context.Context) motion.Flags {
	return motion.AllFlags(true)
}

func (m *MockSource) RequestPermission(context.Context) motion.Flags {
	return motion.AllFlags(true)
}

// Frame returns the readings for a given elapsed time in seconds. The n-th
// frame flips the tremor sign.
func (m *MockSource) Frame(elapsed float64, n int) []motion.Update {
	tremor := m.Tremor
	if n%2 == 1 {
		tremor = -tremor
	}
	accel := motion.Reading{
		X: m.Sway*math.Sin(elapsed*1.3) + tremor,
		Y: 0.1 * math.Cos(elapsed*0.7),
		Z: standardGravity,
	}
	gyro := motion.Reading{
		X: 2 * math.Sin(elapsed),
		Y: 1.5 * math.Cos(elapsed*0.7),
		Z: 0.5 * math.Sin(elapsed*0.3),
	}

	m.mu.Lock()
	dt := m.Interval.Seconds()
	if n == 0 {
		dt = 0
	}
	m.pose = orientation.ComputePose(accel, gyro, m.pose, dt)
	pose := m.pose
	m.mu.Unlock()

	ups := []motion.Update{
		{Kind: motion.Accelerometer, Reading: accel},
		{Kind: motion.Gyroscope, Reading: gyro},
	}
	return append(ups, pose.Event().Updates()...)
}

// Subscribe emits one frame per interval until cancelled.
func (m *MockSource) Subscribe(cb Callback) (Subscription, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	var (
		p *poller
		g *guard
	)
	g = newGuard(cb, func() { p.halt() })
	p = startPoller(m.Interval, func() {
		m.mu.Lock()
		n := m.n
		m.n++
		m.mu.Unlock()
		now := time.Now()
		g.deliver(m.Frame(now.Sub(m.start).Seconds(), n), now.UnixMilli())
	})
	return g, nil
}
