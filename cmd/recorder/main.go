// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/balance_recorder/internal/app"
	"github.com/relabs-tech/balance_recorder/internal/config"
)

func main() {
	configPath := flag.String("config", "./balance_config.txt", "path to configuration file (empty: defaults + environment)")
	flag.Parse()

	log.Println("starting balance recorder (sensors → session → analysis)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunRecorder(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
