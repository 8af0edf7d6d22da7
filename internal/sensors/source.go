// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors turns device motion streams into per-kind readings.
package sensors

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/relabs-tech/balance_recorder/internal/motion"
)

// ErrNilCallback is returned by Subscribe when no callback is given.
var ErrNilCallback = errors.New("sensors: nil callback")

// Callback receives one reading for one kind. ts is ms since epoch.
type Callback func(kind motion.Kind, r motion.Reading, ts int64)

// Subscription stops a running subscription. Cancel is idempotent and
// returns only after the last callback has finished.
type Subscription interface {
	Cancel()
}

// Source is a push source of motion readings.
type Source interface {
	// Subscribe starts delivering readings to cb until the returned
	// subscription is cancelled. Transport failures are logged and yield a
	// subscription that delivers nothing.
	Subscribe(cb Callback) (Subscription, error)
	// CheckAvailability reports which kinds are usable; all false on failure.
	CheckAvailability(ctx context.Context) motion.Flags
	// RequestPermission asks for access and reports the grant per kind.
	RequestPermission(ctx context.Context) motion.Flags
}

// NopSubscription is a subscription that never delivered anything.
type NopSubscription struct{}

func (NopSubscription) Cancel() {}

// guard serialises deliveries against cancellation: once Cancel has taken
// the write lock, no delivery is running and none will start.
// A callback must not cancel its own subscription.
type guard struct {
	cb       Callback
	onCancel func()

	mu        sync.RWMutex
	cancelled bool
	once      sync.Once
}

func newGuard(cb Callback, onCancel func()) *guard {
	return &guard{cb: cb, onCancel: onCancel}
}

func (g *guard) deliver(ups []motion.Update, ts int64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.cancelled {
		return
	}
	for _, u := range ups {
		g.cb(u.Kind, u.Reading, ts)
	}
}

func (g *guard) active() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.cancelled
}

// Cancel is safe on a nil guard.
func (g *guard) Cancel() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		g.mu.Lock()
		g.cancelled = true
		g.mu.Unlock()
		if g.onCancel != nil {
			g.onCancel()
		}
	})
}

// poller runs fn on every tick of its own goroutine until halted.
type poller struct {
	stop chan struct{}
	done chan struct{}
}

func startPoller(interval time.Duration, fn func()) *poller {
	p := &poller{stop: make(chan struct{}), done: make(chan struct{})}
	t := time.NewTicker(interval)
	go func() {
		defer close(p.done)
		defer t.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-t.C:
				fn()
			}
		}
	}()
	return p
}

// halt stops the poller and waits for the goroutine to exit.
func (p *poller) halt() {
	close(p.stop)
	<-p.done
}
