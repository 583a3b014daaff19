package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/af-corp/facility-assistant/internal/assistant"
	"github.com/af-corp/facility-assistant/internal/config"
	"github.com/af-corp/facility-assistant/internal/rooms"
	"github.com/af-corp/facility-assistant/internal/selection"
	"github.com/af-corp/facility-assistant/internal/telemetry"
	"github.com/af-corp/facility-assistant/internal/transport"
)

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	roomsFile := flag.String("rooms", "", "room dataset file (.yaml, .yml or .json)")
	facility := flag.String("facility", "", "facility to load from the configured data directory (instead of -rooms)")
	asJSON := flag.Bool("json", false, "print the whole conversation as JSON")
	verbose := flag.Bool("v", false, "log round trips and tool calls to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: ask [flags] \"prompt\"\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	prompt := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if prompt == "" || (*roomsFile == "") == (*facility == "") {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: a prompt and exactly one of -rooms or -facility are required")
		os.Exit(1)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := telemetry.NewLogger(os.Stderr, level, "text")

	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg := loader.Config()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		ds  *rooms.Dataset
		err error
	)
	if *roomsFile != "" {
		ds, err = rooms.LoadFile(*roomsFile)
	} else {
		ds, err = rooms.NewFileSource(cfg.Dataset.Dir).Load(ctx, *facility)
	}
	if err != nil {
		log.Fatalf("failed to load rooms: %v", err)
	}

	breaker := cfg.Routing.CircuitBreaker
	health := transport.NewHealthTracker(breaker.FailureThreshold, breaker.RecoveryProbeInterval)
	router, err := transport.BuildFromConfig(loader.Assistant(), loader.Providers(), cfg.Routing, health)
	if err != nil {
		log.Fatalf("failed to build provider routes: %v", err)
	}
	orch := assistant.FromConfig(router, loader.Assistant(), nil, nil)

	recorder := &selection.Recorder{}
	conv, err := orch.Converse(ctx, prompt, ds, recorder)
	if err != nil {
		log.Fatalf("assistant failed after %d round trips: %v", conv.RoundTrips, err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(conv); err != nil {
			log.Fatalf("failed to encode conversation: %v", err)
		}
		return
	}

	fmt.Println(conv.Answer)
	for _, names := range recorder.Selections() {
		fmt.Printf("selected: %s\n", strings.Join(names, ", "))
	}
}
