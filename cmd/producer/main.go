package main

import (
	"flag"
	"log"
	"time"

	"github.com/relabs-tech/balance_recorder/internal/app"
	"github.com/relabs-tech/balance_recorder/internal/config"
)

func main() {
	configPath := flag.String("config", "./balance_config.txt", "path to configuration file")
	interval := flag.Duration("interval", 20*time.Millisecond, "emit period")
	sway := flag.Float64("sway", 0, "lateral sway amplitude in m/s²")
	tremor := flag.Float64("tremor", 0, "sample-to-sample tremor amplitude in m/s²")
	flag.Parse()

	log.Println("starting balance MQTT producer (mock)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunMockProducer(*interval, *sway, *tremor); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
