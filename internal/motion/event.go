// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"encoding/json"
	"fmt"
	"math"
)

// Axes is a 3-axis block as delivered by a device. Any component may be
// missing. Rotation rates are sometimes sent as alpha/beta/gamma instead of
// x/y/z, so both spellings are accepted.
type Axes struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	Z *float64 `json:"z,omitempty"`

	Alpha *float64 `json:"alpha,omitempty"`
	Beta  *float64 `json:"beta,omitempty"`
	Gamma *float64 `json:"gamma,omitempty"`
}

// MotionEvent is the accelerometer/gyroscope channel.
type MotionEvent struct {
	Acceleration *Axes `json:"acceleration,omitempty"`
	RotationRate *Axes `json:"rotationRate,omitempty"`
}

// OrientationEvent is the orientation channel; it feeds the magnetometer kind.
type OrientationEvent struct {
	Alpha *float64 `json:"alpha,omitempty"`
	Beta  *float64 `json:"beta,omitempty"`
	Gamma *float64 `json:"gamma,omitempty"`
}

// Update is one decoded reading for one kind.
type Update struct {
	Kind    Kind
	Reading Reading
}

// axis substitutes 0 for absent or non-finite components.
func axis(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return *v
}

func (a *Axes) hasXYZ() bool {
	return a.X != nil || a.Y != nil || a.Z != nil
}

func (a *Axes) hasAngles() bool {
	return a.Alpha != nil || a.Beta != nil || a.Gamma != nil
}

func (a *Axes) reading() Reading {
	return Reading{X: axis(a.X), Y: axis(a.Y), Z: axis(a.Z)}
}

// rotation maps an angular-rate block onto x/y/z. When only alpha/beta/gamma
// are present, beta is the x rate, gamma the y rate and alpha the z rate.
func (a *Axes) rotation() Reading {
	if !a.hasXYZ() && a.hasAngles() {
		return Reading{X: axis(a.Beta), Y: axis(a.Gamma), Z: axis(a.Alpha)}
	}
	return a.reading()
}

// Updates decodes the event into per-kind readings. A missing block yields
// no update for its kind.
func (e MotionEvent) Updates() []Update {
	out := make([]Update, 0, 2)
	if e.Acceleration != nil {
		out = append(out, Update{Kind: Accelerometer, Reading: e.Acceleration.reading()})
	}
	if e.RotationRate != nil {
		out = append(out, Update{Kind: Gyroscope, Reading: e.RotationRate.rotation()})
	}
	return out
}

// Updates decodes the orientation event as a magnetometer reading
// (alpha→x, beta→y, gamma→z).
func (e OrientationEvent) Updates() []Update {
	return []Update{{
		Kind:    Magnetometer,
		Reading: Reading{X: axis(e.Alpha), Y: axis(e.Beta), Z: axis(e.Gamma)},
	}}
}

// Channel identifies which event shape a payload carries.
type Channel string

const (
	ChannelMotion      Channel = "motion"
	ChannelOrientation Channel = "orientation"
)

// Decode parses a JSON payload of the given channel into readings.
func Decode(ch Channel, payload []byte) ([]Update, error) {
	switch ch {
	case ChannelMotion:
		var ev MotionEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode motion event: %w", err)
		}
		return ev.Updates(), nil
	case ChannelOrientation:
		var ev OrientationEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode orientation event: %w", err)
		}
		return ev.Updates(), nil
	}
	return nil, fmt.Errorf("unknown event channel %q", ch)
}

func ptr(v float64) *float64 { return &v }

// Encode groups updates into one JSON payload per channel, the inverse of
// Decode. Channels without updates are omitted.
func Encode(ups []Update) (map[Channel][]byte, error) {
	var (
		me  MotionEvent
		oe  *OrientationEvent
		out = make(map[Channel][]byte, 2)
	)
	for _, u := range ups {
		r := u.Reading
		switch u.Kind {
		case Accelerometer:
			me.Acceleration = &Axes{X: ptr(r.X), Y: ptr(r.Y), Z: ptr(r.Z)}
		case Gyroscope:
			me.RotationRate = &Axes{X: ptr(r.X), Y: ptr(r.Y), Z: ptr(r.Z)}
		case Magnetometer:
			oe = &OrientationEvent{Alpha: ptr(r.X), Beta: ptr(r.Y), Gamma: ptr(r.Z)}
		}
	}
	if me.Acceleration != nil || me.RotationRate != nil {
		b, err := json.Marshal(me)
		if err != nil {
			return nil, fmt.Errorf("encode motion event: %w", err)
		}
		out[ChannelMotion] = b
	}
	if oe != nil {
		b, err := json.Marshal(oe)
		if err != nil {
			return nil, fmt.Errorf("encode orientation event: %w", err)
		}
		out[ChannelOrientation] = b
	}
	return out, nil
}
