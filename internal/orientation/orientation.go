// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/relabs-tech/balance_recorder/internal/motion"
)

// gyroWeight is the complementary filter weight given to the integrated gyro
// angle; the rest comes from the accelerometer tilt.
const gyroWeight = 0.98

// Pose is roll/pitch/yaw in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is 0.
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
	}
}

// ComputePose fuses one accelerometer and gyroscope reading (°/s) into prev
// with a complementary filter. dt is in seconds; a non-positive dt returns
// the accelerometer tilt with prev's yaw.
func ComputePose(accel, gyro motion.Reading, prev Pose, dt float64) Pose {
	tilt := ComputePoseFromAccel(accel.X, accel.Y, accel.Z)
	if dt <= 0 {
		tilt.Yaw = prev.Yaw
		return tilt
	}

	return Pose{
		Roll:  gyroWeight*(prev.Roll+gyro.X*dt) + (1-gyroWeight)*tilt.Roll,
		Pitch: gyroWeight*(prev.Pitch+gyro.Y*dt) + (1-gyroWeight)*tilt.Pitch,
		Yaw:   wrap360(prev.Yaw + gyro.Z*dt),
	}
}

// Event renders the pose as a device orientation event: alpha is the
// heading, beta the front-back tilt and gamma the left-right tilt.
func (p Pose) Event() motion.OrientationEvent {
	alpha, beta, gamma := p.Yaw, p.Pitch, p.Roll
	return motion.OrientationEvent{Alpha: &alpha, Beta: &beta, Gamma: &gamma}
}

func wrap360(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
