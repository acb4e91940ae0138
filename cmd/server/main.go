package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/config"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/server"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.FileEnv), "Config file (.yaml, .yml or .toml)")
	port := flag.String("port", "", "Server port")
	transport := flag.String("transport", "", "Backend transport: http or grpc")
	endpoint := flag.String("endpoint", "", "Backend HTTP endpoint")
	grpcAddr := flag.String("grpc-addr", "", "Backend gRPC address")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags that were set explicitly win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "transport":
			cfg.Backend.Transport = *transport
		case "endpoint":
			cfg.Backend.Endpoint = *endpoint
		case "grpc-addr":
			cfg.Backend.GRPCAddress = *grpcAddr
		case "dev":
			cfg.Logging.Development = *dev
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

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
		log.Println("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		_ = srv.Close()
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}
}
