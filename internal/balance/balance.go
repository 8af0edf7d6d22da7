// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package balance scores postural stability from a recorded motion session.
//
// The score is additive: each feature that crosses its threshold adds a fixed
// penalty to a risk score, and the balance score is 100 minus that risk,
// floored at 0.
package balance

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/balance_recorder/internal/motion"
)

// MinSamples is the shortest recording that gets analysed (5 s at 10 Hz).
const MinSamples = 50

// Thresholds and penalties of the risk score.
const (
	accelVariabilityLimit = 2.5
	gyroVariabilityLimit  = 1.8
	totalMovementLimit    = 12.0
	lateralSwayLimit      = 0.7
	gaitGyroZLimit        = 2.5
	tremorExtremaRatio    = 0.3

	accelVariabilityPenalty = 25
	gyroVariabilityPenalty  = 25
	totalMovementPenalty    = 20
	lateralSwayPenalty      = 30
	tremorPenalty           = 15
	gaitPenalty             = 20

	significantRisk = 50
	moderateRisk    = 25
)

const (
	msgInsufficient = "Insufficient data for analysis. Please record for at least 5 seconds."
	msgSignificant  = "Significant balance irregularities detected. Movement patterns suggest difficulty maintaining a stable posture. Consider consulting a healthcare professional."
	msgModerate     = "Moderate balance concerns detected. Some instability was observed; consider repeating the assessment or consulting a healthcare professional."
	msgNormal       = "Balance appears normal. Good stability and minimal excessive movement detected."
)

// Status is the classification of a session.
type Status string

const (
	StatusNormal       Status = "normal"
	StatusAbnormal     Status = "abnormal"
	StatusInsufficient Status = "insufficient"
)

// Tier separates the two abnormal messages. Status does not.
type Tier string

const (
	TierNone        Tier = "none"
	TierModerate    Tier = "moderate"
	TierSignificant Tier = "significant"
)

// Details is the feature breakdown shown next to the score.
type Details struct {
	AccelVariability float64 `json:"accelVariability"`
	GyroVariability  float64 `json:"gyroVariability"`
	TotalMovement    float64 `json:"totalMovement"`
	BalanceScore     float64 `json:"balanceScore"`
}

// Features carries the intermediate values behind the risk score.
type Features struct {
	Samples       int     `json:"samples"`
	LateralSway   float64 `json:"lateralSway"`
	SagittalSway  float64 `json:"sagittalSway"`
	Extrema       int     `json:"extrema"`
	Tremor        bool    `json:"tremor"`
	GyroZStdDev   float64 `json:"gyroZStdDev"`
	GaitIrregular bool    `json:"gaitIrregular"`
	RiskScore     int     `json:"riskScore"`
}

// Result is the outcome of one analysis.
type Result struct {
	Status    Status   `json:"status"`
	Stability float64  `json:"stability"`
	Message   string   `json:"message"`
	Details   Details  `json:"details"`
	Features  Features `json:"features"`
}

// Tier reports which abnormal message the result carries.
func (r Result) Tier() Tier {
	if r.Status != StatusAbnormal {
		return TierNone
	}
	if r.Features.RiskScore >= significantRisk {
		return TierSignificant
	}
	return TierModerate
}

// Analyze computes the balance result for an ordered recording.
// It has no side effects and does not retain samples.
func Analyze(samples []motion.Sample) Result {
	n := len(samples)
	if n < MinSamples {
		return Result{
			Status:   StatusInsufficient,
			Message:  msgInsufficient,
			Features: Features{Samples: n},
		}
	}

	accelMag := make([]float64, n)
	gyroMag := make([]float64, n)
	accelX := make([]float64, n)
	accelY := make([]float64, n)
	gyroZ := make([]float64, n)
	for i, s := range samples {
		accelMag[i] = s.Accelerometer.Magnitude()
		gyroMag[i] = s.Gyroscope.Magnitude()
		accelX[i] = s.Accelerometer.X
		accelY[i] = s.Accelerometer.Y
		gyroZ[i] = s.Gyroscope.Z
	}

	f := Features{
		Samples:      n,
		LateralSway:  popStdDev(accelX),
		SagittalSway: popStdDev(accelY),
		Extrema:      countExtrema(accelX),
		GyroZStdDev:  popStdDev(gyroZ),
	}
	f.Tremor = float64(f.Extrema) > tremorExtremaRatio*float64(n)
	f.GaitIrregular = f.GyroZStdDev > gaitGyroZLimit

	d := Details{
		AccelVariability: popStdDev(accelMag),
		GyroVariability:  popStdDev(gyroMag),
		TotalMovement:    mean(accelMag),
	}

	risk := 0
	if d.AccelVariability > accelVariabilityLimit {
		risk += accelVariabilityPenalty
	}
	if d.GyroVariability > gyroVariabilityLimit {
		risk += gyroVariabilityPenalty
	}
	if d.TotalMovement > totalMovementLimit {
		risk += totalMovementPenalty
	}
	if f.LateralSway > lateralSwayLimit {
		risk += lateralSwayPenalty
	}
	if f.Tremor {
		risk += tremorPenalty
	}
	if f.GaitIrregular {
		risk += gaitPenalty
	}
	f.RiskScore = risk
	d.BalanceScore = math.Max(0, float64(100-risk))

	res := Result{
		Stability: d.BalanceScore,
		Details:   d,
		Features:  f,
	}
	switch {
	case risk >= significantRisk:
		res.Status, res.Message = StatusAbnormal, msgSignificant
	case risk >= moderateRisk:
		res.Status, res.Message = StatusAbnormal, msgModerate
	default:
		res.Status, res.Message = StatusNormal, msgNormal
	}
	return res
}

// popStdDev is the population standard deviation. The compensated variance
// can round to a tiny negative value on constant input, so it is clamped.
// mean is exact for a constant series, where summing first would drift.
func mean(v []float64) float64 {
	for _, x := range v[1:] {
		if x != v[0] {
			return stat.Mean(v, nil)
		}
	}
	return v[0]
}

func popStdDev(v []float64) float64 {
	return math.Sqrt(math.Max(0, stat.PopVariance(v, nil)))
}

// countExtrema counts interior points that are strictly above or strictly
// below both neighbours.
func countExtrema(v []float64) int {
	count := 0
	for i := 1; i < len(v)-1; i++ {
		prev, cur, next := v[i-1], v[i], v[i+1]
		if (cur > prev && cur > next) || (cur < prev && cur < next) {
			count++
		}
	}
	return count
}
