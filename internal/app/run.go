// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/balance_recorder/internal/broker"
	"github.com/relabs-tech/balance_recorder/internal/config"
	"github.com/relabs-tech/balance_recorder/internal/sensors"
	"github.com/relabs-tech/balance_recorder/internal/storage"
)

// newSource builds the sensor source selected by cfg.Source. For the MQTT
// source the returned client is shared with the recorder's publishers.
func newSource(cfg *config.Config) (sensors.Source, mqtt.Client) {
	switch cfg.Source {
	case config.SourceIMU:
		log.Printf("recorder: using MPU9250 on %s (CS %s)", cfg.IMUSPIDevice, cfg.IMUCSPin)
		return sensors.NewIMUSource(imuConfig(cfg)), nil
	case config.SourceMock:
		log.Println("recorder: using mock motion source")
		return sensors.NewMockSource(cfg.IMUInterval()), nil
	default:
		var src *sensors.MQTTSource
		client := broker.NewClient(cfg.MQTTBroker, cfg.MQTTClientIDRecorder, func(c mqtt.Client) {
			src.OnConnect(c)
		})
		src = sensors.NewMQTTSource(client, cfg.TopicMotion, cfg.TopicOrientation)
		log.Printf("recorder: using MQTT source %s + %s", cfg.TopicMotion, cfg.TopicOrientation)
		return src, client
	}
}

func imuConfig(cfg *config.Config) sensors.IMUConfig {
	return sensors.IMUConfig{
		SPIDevice:  cfg.IMUSPIDevice,
		CSPin:      cfg.IMUCSPin,
		AccelRange: cfg.IMUAccelRange,
		GyroRange:  cfg.IMUGyroRange,
		Interval:   cfg.IMUInterval(),
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// RunRecorder serves the recorder until SIGINT/SIGTERM.
func RunRecorder() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}

	ctx, stop := signalContext()
	defer stop()

	source, client := newSource(cfg)
	if client == nil {
		// Publishing is optional for local sources.
		c, err := broker.Connect(cfg.MQTTBroker, cfg.MQTTClientIDRecorder)
		if err != nil {
			log.Printf("recorder: MQTT unavailable, results will not be published: %v", err)
		} else {
			client = c
		}
	}
	if client != nil {
		defer client.Disconnect(250)
	}

	var db *storage.DB
	if cfg.DBPath != "" {
		var err error
		if db, err = storage.NewDB(cfg.DBPath); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer db.Close()
		log.Printf("recorder: sessions stored in %s", cfg.DBPath)
	}

	rec := NewRecorder(RecorderOptions{
		Context:        ctx,
		Source:         source,
		DB:             db,
		Client:         client,
		TopicAnalysis:  cfg.TopicAnalysis,
		TopicSession:   cfg.TopicSession,
		SampleInterval: cfg.SampleInterval(),
		ExportDir:      cfg.ExportDir,
	})
	rec.Init(ctx)
	defer rec.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           NewRouter(rec, cfg.LivePushInterval()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("recorder: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
