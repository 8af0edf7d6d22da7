// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/balance_recorder/internal/balance"
	"github.com/relabs-tech/balance_recorder/internal/broker"
	"github.com/relabs-tech/balance_recorder/internal/export"
	"github.com/relabs-tech/balance_recorder/internal/live"
	"github.com/relabs-tech/balance_recorder/internal/motion"
	"github.com/relabs-tech/balance_recorder/internal/recording"
	"github.com/relabs-tech/balance_recorder/internal/sensors"
	"github.com/relabs-tech/balance_recorder/internal/storage"
)

var (
	errNoStorage = errors.New("persistence is not configured")
	errEmpty     = errors.New("recording is empty")
)

// RecorderOptions wires a Recorder. Only Source is required. Context bounds
// every session started over HTTP; it defaults to context.Background.
type RecorderOptions struct {
	Context        context.Context
	Source         sensors.Source
	DB             *storage.DB
	Client         mqtt.Client
	TopicAnalysis  string
	TopicSession   string
	SampleInterval time.Duration
	ExportDir      string
	TickerFactory  recording.TickerFactory
}

// Status is what a client may read about the recorder.
type Status struct {
	Permission   motion.Flags `json:"permission"`
	Availability motion.Flags `json:"availability"`
	Received     motion.Flags `json:"received"`
	State        string       `json:"state"`
	Samples      int          `json:"samples"`
	Subscribed   bool         `json:"subscribed"`
	SavedID      string       `json:"savedId,omitempty"`
}

// SessionEvent is published on every session transition.
type SessionEvent struct {
	State     string `json:"state"`
	Samples   int    `json:"samples"`
	StartedAt int64  `json:"startedAt,omitempty"`
}

// Recorder ties a sensor source, the live store and a recording session
// together and fans results out to MQTT and storage.
type Recorder struct {
	source    sensors.Source
	live      *live.Store
	session   *recording.Session
	db        *storage.DB
	client    mqtt.Client
	topics    [2]string // analysis, session
	exportDir string
	base      context.Context
	now       func() time.Time

	mu           sync.Mutex
	sub          sensors.Subscription
	permission   motion.Flags
	availability motion.Flags
	last         *balance.Result
	savedID      string
}

// NewRecorder builds an idle recorder. Call Init before use.
func NewRecorder(opts RecorderOptions) *Recorder {
	store := live.NewStore()
	r := &Recorder{
		source:    opts.Source,
		live:      store,
		db:        opts.DB,
		client:    opts.Client,
		topics:    [2]string{opts.TopicAnalysis, opts.TopicSession},
		exportDir: opts.ExportDir,
		base:      opts.Context,
		now:       time.Now,
	}
	if r.base == nil {
		r.base = context.Background()
	}

	sessOpts := []recording.Option{recording.WithOnSample(r.onSample)}
	if opts.SampleInterval > 0 {
		sessOpts = append(sessOpts, recording.WithInterval(opts.SampleInterval))
	}
	if opts.TickerFactory != nil {
		sessOpts = append(sessOpts, recording.WithTickerFactory(opts.TickerFactory))
	}
	r.session = recording.New(store, sessOpts...)
	return r
}

// Init probes availability, asks for permission and subscribes when any kind
// is granted.
func (r *Recorder) Init(ctx context.Context) Status {
	avail := r.source.CheckAvailability(ctx)
	r.mu.Lock()
	r.availability = avail
	r.mu.Unlock()
	log.Printf("recorder: availability %+v", avail)

	r.RequestPermission(ctx)
	return r.Status()
}

// RequestPermission asks the source for access and starts the subscription
// the first time something is granted.
func (r *Recorder) RequestPermission(ctx context.Context) motion.Flags {
	perm := r.source.RequestPermission(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.permission = perm
	log.Printf("recorder: permission %+v", perm)

	granted := perm.Accelerometer || perm.Gyroscope || perm.Magnetometer
	if !granted || r.sub != nil {
		return perm
	}
	sub, err := r.source.Subscribe(r.live.Handler())
	if err != nil {
		log.Printf("recorder: subscribe failed: %v", err)
		return perm
	}
	r.sub = sub
	return perm
}

// Close cancels the subscription and stops a running session.
func (r *Recorder) Close() {
	if err := r.session.Stop(); err == nil {
		log.Println("recorder: stopped active session on shutdown")
	}
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Status reports the current recorder state.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Permission:   r.permission,
		Availability: r.availability,
		Received:     r.live.Received(),
		State:        r.session.State().String(),
		Samples:      r.session.Len(),
		Subscribed:   r.sub != nil,
		SavedID:      r.savedID,
	}
}

func (r *Recorder) baseContext() context.Context { return r.base }

// Live returns the latest merged sample.
func (r *Recorder) Live() motion.Sample {
	return r.live.Snapshot()
}

// Recording returns a copy of the current recording.
func (r *Recorder) Recording() []motion.Sample {
	return r.session.Recording()
}

func (r *Recorder) onSample(_ motion.Sample, n int) {
	if n%balance.MinSamples == 0 {
		log.Printf("recorder: %d samples (%.1f s)", n, float64(n)*r.session.Interval().Seconds())
	}
}

func (r *Recorder) resetResults() {
	r.mu.Lock()
	r.last = nil
	r.savedID = ""
	r.mu.Unlock()
}

// StartSession clears the recording and starts sampling.
func (r *Recorder) StartSession(ctx context.Context) error {
	if err := r.session.Start(ctx); err != nil {
		return err
	}
	r.resetResults()
	log.Printf("recorder: session started (interval %s)", r.session.Interval())
	r.publishSession()
	return nil
}

// StopSession stops sampling; the recording stays available.
func (r *Recorder) StopSession() error {
	if err := r.session.Stop(); err != nil {
		return err
	}
	log.Printf("recorder: session stopped with %d samples", r.session.Len())
	r.publishSession()
	return nil
}

// ClearSession empties the recording while idle.
func (r *Recorder) ClearSession() error {
	if err := r.session.Clear(); err != nil {
		return err
	}
	r.resetResults()
	r.publishSession()
	return nil
}

func (r *Recorder) publishSession() {
	if r.client == nil || r.topics[1] == "" {
		return
	}
	ev := SessionEvent{State: r.session.State().String(), Samples: r.session.Len()}
	if t := r.session.StartedAt(); !t.IsZero() {
		ev.StartedAt = t.UnixMilli()
	}
	if err := broker.PublishJSON(r.client, r.topics[1], false, ev); err != nil {
		log.Printf("recorder: %v", err)
	}
}

// Analyze scores the current recording, publishes the result and attaches
// it to the saved session if there is one.
func (r *Recorder) Analyze(ctx context.Context) balance.Result {
	res := balance.Analyze(r.session.Recording())

	r.mu.Lock()
	r.last = &res
	savedID := r.savedID
	r.mu.Unlock()

	log.Printf("recorder: analysis %s stability=%.1f risk=%d", res.Status, res.Stability, res.Features.RiskScore)

	if r.client != nil && r.topics[0] != "" {
		if err := broker.PublishJSON(r.client, r.topics[0], true, res); err != nil {
			log.Printf("recorder: %v", err)
		}
	}
	if r.db != nil && savedID != "" {
		if err := r.db.SaveAnalysis(ctx, savedID, res); err != nil {
			log.Printf("recorder: save analysis for %s: %v", savedID, err)
		}
	}
	return res
}

// LastResult is the most recent analysis of the current recording.
func (r *Recorder) LastResult() (balance.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return balance.Result{}, false
	}
	return *r.last, true
}

// Save persists the finished recording together with its last analysis.
func (r *Recorder) Save(ctx context.Context) (string, error) {
	if r.db == nil {
		return "", errNoStorage
	}
	if r.session.State() == recording.Active {
		return "", recording.ErrActive
	}
	rec := r.session.Recording()
	if len(rec) == 0 {
		return "", errEmpty
	}

	started := r.session.StartedAt()
	meta := storage.Meta{
		Name:      "balance_assessment_" + started.Format("20060102_150405"),
		StartedAt: started,
		StoppedAt: time.UnixMilli(rec[len(rec)-1].Timestamp),
		Interval:  r.session.Interval(),
	}

	r.mu.Lock()
	last := r.last
	r.mu.Unlock()

	id, err := r.db.SaveSession(ctx, meta, rec, last)
	if err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	r.mu.Lock()
	r.savedID = id
	r.mu.Unlock()
	log.Printf("recorder: saved session %s (%d samples)", id, len(rec))
	return id, nil
}

// ExportFiles writes the combined file and one file per kind into the
// export directory and returns their paths.
func (r *Recorder) ExportFiles() ([]string, error) {
	rec := r.session.Recording()
	if len(rec) == 0 {
		return nil, errEmpty
	}
	dir := r.exportDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export dir: %w", err)
	}

	at := r.now()
	write := func(name string, fn func(f *os.File) error) (string, error) {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}
		if err := fn(f); err != nil {
			f.Close()
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		return path, f.Close()
	}

	var paths []string
	p, err := write(export.Filename(at), func(f *os.File) error { return export.WriteCombined(f, rec) })
	if err != nil {
		return nil, err
	}
	paths = append(paths, p)
	for _, k := range motion.Kinds {
		p, err := write(export.KindFilename(k, at), func(f *os.File) error { return export.WriteKind(f, rec, k) })
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	log.Printf("recorder: exported %d samples to %s", len(rec), dir)
	return paths, nil
}
