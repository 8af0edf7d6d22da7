// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import "math"

// Kind names one of the three motion sensors.
type Kind string

const (
	Accelerometer Kind = "accelerometer"
	Gyroscope     Kind = "gyroscope"
	Magnetometer  Kind = "magnetometer"
)

// Kinds lists every sensor kind in export order.
var Kinds = []Kind{Accelerometer, Gyroscope, Magnetometer}

// Valid reports whether k is one of the known sensor kinds.
func (k Kind) Valid() bool {
	switch k {
	case Accelerometer, Gyroscope, Magnetometer:
		return true
	}
	return false
}

// Label is the capitalised name used in CSV rows ("Accelerometer").
func (k Kind) Label() string {
	switch k {
	case Accelerometer:
		return "Accelerometer"
	case Gyroscope:
		return "Gyroscope"
	case Magnetometer:
		return "Magnetometer"
	}
	return string(k)
}

// Reading is one 3-axis vector from a single sensor.
type Reading struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude is the Euclidean norm of the reading.
func (r Reading) Magnitude() float64 {
	return math.Sqrt(r.X*r.X + r.Y*r.Y + r.Z*r.Z)
}

// Sample bundles one reading per sensor kind at a single instant.
type Sample struct {
	Timestamp     int64   `json:"timestamp"` // ms since epoch
	Accelerometer Reading `json:"accelerometer"`
	Gyroscope     Reading `json:"gyroscope"`
	Magnetometer  Reading `json:"magnetometer"`
}

// Reading returns the reading stored for kind, or the zero reading for an
// unknown kind.
func (s Sample) Reading(kind Kind) Reading {
	switch kind {
	case Accelerometer:
		return s.Accelerometer
	case Gyroscope:
		return s.Gyroscope
	case Magnetometer:
		return s.Magnetometer
	}
	return Reading{}
}

// With returns a copy of s with kind replaced by r and the timestamp set to ts.
// Unknown kinds leave the readings untouched.
func (s Sample) With(kind Kind, r Reading, ts int64) Sample {
	switch kind {
	case Accelerometer:
		s.Accelerometer = r
	case Gyroscope:
		s.Gyroscope = r
	case Magnetometer:
		s.Magnetometer = r
	default:
		return s
	}
	s.Timestamp = ts
	return s
}

// Flags holds one boolean per sensor kind. It is used for both the
// permission state and the availability state.
type Flags struct {
	Accelerometer bool `json:"accelerometer"`
	Gyroscope     bool `json:"gyroscope"`
	Magnetometer  bool `json:"magnetometer"`
}

// AllFlags fans a single combined grant out to every kind.
func AllFlags(v bool) Flags {
	return Flags{Accelerometer: v, Gyroscope: v, Magnetometer: v}
}

// All reports whether every kind is set.
func (f Flags) All() bool {
	return f.Accelerometer && f.Gyroscope && f.Magnetometer
}

// Get returns the flag for kind.
func (f Flags) Get(kind Kind) bool {
	switch kind {
	case Accelerometer:
		return f.Accelerometer
	case Gyroscope:
		return f.Gyroscope
	case Magnetometer:
		return f.Magnetometer
	}
	return false
}
