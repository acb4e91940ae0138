package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/profile"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/config"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/logging"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/monitoring"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/server"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/shared/id"
)

type originReport struct {
	Origin                       string   `json:"origin"`
	Fetched                      bool     `json:"fetched"`
	TriggerFormSignatures        []string `json:"trigger_form_signatures,omitempty"`
	SupportsConsentlessExecution bool     `json:"supports_consentless_execution"`
	FormSupported                *bool    `json:"form_supported,omitempty"`
	Error                        string   `json:"error,omitempty"`
}

func main() {
	configPath := flag.String("config", os.Getenv(config.FileEnv), "Config file (.yaml, .yml or .toml)")
	transport := flag.String("transport", "", "Backend transport: http or grpc")
	formSignature := flag.String("form-signature", "", "Also check this form signature on every origin")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall deadline")
	verbose := flag.Bool("v", false, "Log to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] origin...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *transport != "" {
		cfg.Backend.Transport = *transport
	}

	var sig *capabilities.FormSignature
	if *formSignature != "" {
		v, err := strconv.ParseUint(*formSignature, 10, 64)
		if err != nil {
			log.Fatalf("Invalid form signature %q: %v", *formSignature, err)
		}
		s := capabilities.FormSignature(v)
		sig = &s
	}

	logger := logging.NewNop()
	if *verbose {
		logger, err = logging.New(logging.ConfigFor(cfg.Logging))
		if err != nil {
			log.Fatalf("Failed to create logger: %v", err)
		}
	}
	defer logger.Sync()

	backend, err := server.NewBackend(cfg.Backend, monitoring.NewMetrics(), nil, logger.ForBackend(cfg.Backend.Transport))
	if err != nil {
		log.Fatalf("Failed to create backend: %v", err)
	}
	defer backend.Close()

	profiles := profile.NewManager(func(p id.ProfileID) (*capabilities.Fetcher, error) {
		return capabilities.NewFetcher(backend, capabilities.Options{
			MaxSize:          flag.NArg(),
			Lifetime:         cfg.Capabilities.Lifetime.Std(),
			HashPrefixLength: cfg.Capabilities.HashPrefixLength,
			Intent:           cfg.Capabilities.Intent,
			Logger:           logger.ForProfile(p.String()),
		})
	}, logger.Logger)
	defer profiles.Close()

	fetcher, err := profiles.Get(profile.DefaultProfile)
	if err != nil {
		log.Fatalf("Failed to create fetcher: %v", err)
	}

	reports := make([]originReport, 0, flag.NArg())
	origins := make([]capabilities.Origin, 0, flag.NArg())
	for _, raw := range flag.Args() {
		origin, err := capabilities.ParseOrigin(raw)
		if err != nil {
			reports = append(reports, originReport{Origin: raw, Error: err.Error()})
			continue
		}
		origins = append(origins, origin)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	results, err := fetcher.Prefetch(ctx, origins)
	if err != nil {
		log.Printf("Prefetch incomplete: %v", err)
	}

	ok := len(reports) == 0
	for _, origin := range origins {
		report := originReport{Origin: origin.String(), Fetched: results[origin]}
		if result, cached := fetcher.Cached(origin); cached {
			for _, s := range result.SupportedFormSignatures() {
				report.TriggerFormSignatures = append(report.TriggerFormSignatures, strconv.FormatUint(uint64(s), 10))
			}
			report.SupportsConsentlessExecution = result.SupportsConsentlessExecution()
		}
		if sig != nil {
			supported := fetcher.IsTriggerFormSupported(origin, *sig)
			report.FormSupported = &supported
		}
		if !report.Fetched {
			ok = false
		}
		reports = append(reports, report)
	}

	out, err := sonic.MarshalIndent(reports, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode report: %v", err)
	}
	fmt.Println(string(out))

	if !ok {
		cancel()
		profiles.Close()
		_ = backend.Close()
		os.Exit(1)
	}
}
