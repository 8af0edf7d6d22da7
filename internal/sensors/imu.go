// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/balance_recorder/internal/motion"
	"github.com/relabs-tech/balance_recorder/internal/orientation"
)

const standardGravity = 9.80665 // m/s² per g

// LSB per g for ACCEL_FS_SEL 0..3 and LSB per °/s for GYRO_FS_SEL 0..3.
var (
	accelLSB = [4]float64{16384, 8192, 4096, 2048}
	gyroLSB  = [4]float64{131, 65.5, 32.8, 16.4}
)

// Raw is one raw accelerometer/gyroscope sample in chip counts.
type Raw struct {
	Ax, Ay, Az int16
	Gx, Gy, Gz int16
}

// RawReader reads raw samples from an IMU.
type RawReader interface {
	ReadRaw() (Raw, error)
}

// IMUConfig selects the MPU9250 wiring and ranges.
type IMUConfig struct {
	SPIDevice  string
	CSPin      string
	AccelRange byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	GyroRange  byte // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	Interval   time.Duration
}

// IMUSource polls an MPU9250 and emits accelerometer, gyroscope and a
// fused orientation reading on the magnetometer channel.
type IMUSource struct {
	cfg    IMUConfig
	open   func(IMUConfig) (RawReader, error)
	permit func() error
	now    func() time.Time

	mu     sync.Mutex
	reader RawReader
}

// NewIMUSource returns a source for the MPU9250 described by cfg. The device
// is opened on first use.
func NewIMUSource(cfg IMUConfig) *IMUSource {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Millisecond
	}
	return &IMUSource{
		cfg:    cfg,
		open:   openMPU9250,
		permit: hostInit,
		now:    time.Now,
	}
}

func hostInit() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	return nil
}

func (s *IMUSource) device() (RawReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return s.reader, nil
	}
	r, err := s.open(s.cfg)
	if err != nil {
		return nil, err
	}
	s.reader = r
	return r, nil
}

// CheckAvailability opens the device; any failure reports nothing available.
func (s *IMUSource) CheckAvailability(_ context.Context) motion.Flags {
	if _, err := s.device(); err != nil {
		log.Printf("sensors: IMU unavailable: %v", err)
		return motion.AllFlags(false)
	}
	return motion.AllFlags(true)
}

// RequestPermission grants all kinds once the GPIO/SPI host is accessible.
func (s *IMUSource) RequestPermission(_ context.Context) motion.Flags {
	if err := s.permit(); err != nil {
		log.Printf("sensors: IMU access denied: %v", err)
		return motion.AllFlags(false)
	}
	return motion.AllFlags(true)
}

// Subscribe starts polling the device. If it cannot be opened the failure
// is logged and the subscription delivers nothing.
func (s *IMUSource) Subscribe(cb Callback) (Subscription, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	dev, err := s.device()
	if err != nil {
		log.Printf("sensors: IMU subscribe failed, no readings will arrive: %v", err)
		return NopSubscription{}, nil
	}

	accelScale := standardGravity / accelLSB[s.cfg.AccelRange&3]
	gyroScale := 1 / gyroLSB[s.cfg.GyroRange&3]

	var (
		pose orientation.Pose
		last time.Time
		g    *guard
	)
	poll := func() {
		raw, err := dev.ReadRaw()
		if err != nil {
			log.Printf("sensors: IMU read error: %v", err)
			return
		}
		now := s.now()
		accel := motion.Reading{
			X: float64(raw.Ax) * accelScale,
			Y: float64(raw.Ay) * accelScale,
			Z: float64(raw.Az) * accelScale,
		}
		gyro := motion.Reading{
			X: float64(raw.Gx) * gyroScale,
			Y: float64(raw.Gy) * gyroScale,
			Z: float64(raw.Gz) * gyroScale,
		}
		var dt float64
		if !last.IsZero() {
			dt = now.Sub(last).Seconds()
		}
		last = now
		pose = orientation.ComputePose(accel, gyro, pose, dt)

		ups := []motion.Update{
			{Kind: motion.Accelerometer, Reading: accel},
			{Kind: motion.Gyroscope, Reading: gyro},
		}
		ups = append(ups, pose.Event().Updates()...)
		g.deliver(ups, now.UnixMilli())
	}

	var p *poller
	g = newGuard(cb, func() { p.halt() })
	p = startPoller(s.cfg.Interval, poll)
	return g, nil
}

// mpuReader reads an MPU9250 through the periph driver.
type mpuReader struct {
	imu *mpu9250.MPU9250
}

func openMPU9250(cfg IMUConfig) (RawReader, error) {
	if err := hostInit(); err != nil {
		return nil, err
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", cfg.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", cfg.SPIDevice, err)
	}

	imu, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}

	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if err := imu.SetAccelRange(cfg.AccelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	log.Printf("IMU: accelerometer range set to %d (±%dg)", cfg.AccelRange, []int{2, 4, 8, 16}[cfg.AccelRange&3])

	if err := imu.SetGyroRange(cfg.GyroRange); err != nil {
		return nil, fmt.Errorf("IMU: set gyro range: %w", err)
	}
	log.Printf("IMU: gyroscope range set to %d (±%d°/s)", cfg.GyroRange, []int{250, 500, 1000, 2000}[cfg.GyroRange&3])

	if err := imu.Calibrate(); err != nil {
		log.Printf("Warning: IMU calibration failed: %v", err)
	} else {
		log.Printf("IMU calibration complete")
	}

	return &mpuReader{imu: imu}, nil
}

// ReadRaw reads accelerometer and gyroscope counts.
func (r *mpuReader) ReadRaw() (Raw, error) {
	var (
		out Raw
		err error
	)
	if out.Ax, err = r.imu.GetAccelerationX(); err != nil {
		return Raw{}, fmt.Errorf("IMU accel X: %w", err)
	}
	if out.Ay, err = r.imu.GetAccelerationY(); err != nil {
		return Raw{}, fmt.Errorf("IMU accel Y: %w", err)
	}
	if out.Az, err = r.imu.GetAccelerationZ(); err != nil {
		return Raw{}, fmt.Errorf("IMU accel Z: %w", err)
	}
	if out.Gx, err = r.imu.GetRotationX(); err != nil {
		return Raw{}, fmt.Errorf("IMU gyro X: %w", err)
	}
	if out.Gy, err = r.imu.GetRotationY(); err != nil {
		return Raw{}, fmt.Errorf("IMU gyro Y: %w", err)
	}
	if out.Gz, err = r.imu.GetRotationZ(); err != nil {
		return Raw{}, fmt.Errorf("IMU gyro Z: %w", err)
	}
	return out, nil
}
