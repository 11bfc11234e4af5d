package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/isokernel/internal/infrastructure/server"
)

func main() {
	configPath := flag.String("config", "", "YAML boot file applied over the environment")
	port := flag.String("port", "", "Debug API port")
	cpus := flag.Int("cpus", 0, "Number of simulated CPUs")
	tick := flag.Duration("tick", 0, "Timer interrupt period")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags that were set override the environment and the boot file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "cpus":
			cfg.Kernel.CPUs = *cpus
		case "tick":
			cfg.Kernel.Tick = *tick
		case "dev":
			cfg.Logging.Development = *dev
			if *dev {
				cfg.Logging.Level = "debug"
			}
		}
	})

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-sigChan:
	case err := <-errChan:
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Error during shutdown: %v", err)
	}
}
