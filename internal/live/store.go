// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package live

import (
	"sync"
	"time"

	"github.com/relabs-tech/balance_recorder/internal/motion"
	"github.com/relabs-tech/balance_recorder/internal/sensors"
)

// Store holds the latest merged sample. Sensor callbacks write to it from
// their own goroutines; the recorder reads it on every tick.
type Store struct {
	mu     sync.RWMutex
	latest motion.Sample
	have   motion.Flags
}

// NewStore returns a store whose initial sample has zero readings and the
// current time as timestamp.
func NewStore() *Store {
	return &Store{latest: motion.Sample{Timestamp: time.Now().UnixMilli()}}
}

// Update merges one reading into the latest sample. The other kinds keep
// their last known values.
func (s *Store) Update(kind motion.Kind, r motion.Reading, ts int64) {
	if !kind.Valid() {
		return
	}
	s.mu.Lock()
	s.latest = s.latest.With(kind, r, ts)
	switch kind {
	case motion.Accelerometer:
		s.have.Accelerometer = true
	case motion.Gyroscope:
		s.have.Gyroscope = true
	case motion.Magnetometer:
		s.have.Magnetometer = true
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the latest sample.
func (s *Store) Snapshot() motion.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Received reports which kinds have delivered at least one reading.
func (s *Store) Received() motion.Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.have
}

// Handler adapts the store to a sensor callback.
func (s *Store) Handler() sensors.Callback {
	return s.Update
}
