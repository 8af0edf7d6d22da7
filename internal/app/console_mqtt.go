// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/balance_recorder/internal/balance"
	"github.com/relabs-tech/balance_recorder/internal/broker"
	"github.com/relabs-tech/balance_recorder/internal/config"
)

func formatResult(res balance.Result) string {
	d := res.Details
	return fmt.Sprintf(
		"[RESULT] status=%s tier=%s stability=%5.1f  accelVar=%.3f gyroVar=%.3f movement=%.3f  samples=%d\n         %s\n",
		res.Status, res.Tier(), res.Stability, d.AccelVariability, d.GyroVariability, d.TotalMovement,
		res.Features.Samples, res.Message,
	)
}

func formatSession(ev SessionEvent) string {
	return fmt.Sprintf("[SESSION] state=%-6s samples=%d\n", ev.State, ev.Samples)
}

// subscribeConsole prints analysis results and session transitions to w.
func subscribeConsole(client mqtt.Client, w io.Writer, analysisTopic, sessionTopic string) error {
	analysisToken := client.Subscribe(analysisTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var res balance.Result
		if err := json.Unmarshal(msg.Payload(), &res); err != nil {
			log.Printf("console: analysis unmarshal error: %v", err)
			return
		}
		fmt.Fprint(w, formatResult(res))
	})
	analysisToken.Wait()
	if analysisToken.Error() != nil {
		return analysisToken.Error()
	}
	log.Printf("console: subscribed to %s", analysisTopic)

	sessionToken := client.Subscribe(sessionTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev SessionEvent
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("console: session unmarshal error: %v", err)
			return
		}
		fmt.Fprint(w, formatSession(ev))
	})
	sessionToken.Wait()
	if sessionToken.Error() != nil {
		return sessionToken.Error()
	}
	log.Printf("console: subscribed to %s", sessionTopic)
	return nil
}

// RunConsoleMQTT prints recorder output until Ctrl+C.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}

	client, err := broker.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	if err := subscribeConsole(client, os.Stdout, cfg.TopicAnalysis, cfg.TopicSession); err != nil {
		client.Disconnect(250)
		return err
	}

	// Wait for Ctrl+C
	ctx, stop := signalContext()
	defer stop()
	<-ctx.Done()

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
