package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bennah995/quoterelay/internal/syncclient"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("QUOTERELAY_BASE_URL", "http://127.0.0.1:8080"), "quoterelay base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("QUOTERELAY_TOKEN")), "bearer token")
	workspaceID := flag.String("workspace", strings.TrimSpace(os.Getenv("QUOTERELAY_WORKSPACE")), "workspace ID")
	quotesFile := flag.String("quotes-file", strings.TrimSpace(os.Getenv("QUOTERELAY_QUOTES_FILE")), "local quotes JSON file")
	stateFile := flag.String("state-file", strings.TrimSpace(os.Getenv("QUOTERELAY_SYNC_STATE_FILE")), "sync state file path")
	interval := flag.Duration("interval", durationEnv("QUOTERELAY_SYNC_INTERVAL", 30*time.Second), "sync interval")
	intervalJitter := flag.Float64("interval-jitter", floatEnv("QUOTERELAY_SYNC_INTERVAL_JITTER", 0.2), "sync interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv("QUOTERELAY_SYNC_TIMEOUT", 15*time.Second), "per-sync timeout")
	once := flag.Bool("once", false, "run one sync cycle and exit")
	noPush := flag.Bool("no-push", false, "pull only, never push local quotes")
	watch := flag.Bool("watch", false, "also sync when the quotes file changes on disk")
	seed := flag.Bool("seed", false, "seed the quotes file with defaults when missing")
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		log.Fatalf("token is required (--token or QUOTERELAY_TOKEN)")
	}
	if strings.TrimSpace(*workspaceID) == "" {
		log.Fatalf("workspace is required (--workspace or QUOTERELAY_WORKSPACE)")
	}
	if strings.TrimSpace(*quotesFile) == "" {
		log.Fatalf("quotes-file is required (--quotes-file or QUOTERELAY_QUOTES_FILE)")
	}
	if *interval <= 0 {
		*interval = 30 * time.Second
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}
	*intervalJitter = clampJitterRatio(*intervalJitter)

	client := syncclient.NewHTTPClient(*baseURL, *token, &http.Client{Timeout: *timeout})
	syncer, err := syncclient.NewSyncer(client, syncclient.SyncerOptions{
		WorkspaceID: strings.TrimSpace(*workspaceID),
		QuotesFile:  *quotesFile,
		StateFile:   *stateFile,
		NoPush:      *noPush,
		SeedQuotes:  *seed,
		Logger:      log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize syncer: %v", err)
	}
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := func() {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		report, err := syncer.SyncOnce(ctx)
		if err != nil {
			log.Printf("sync cycle failed: %v", err)
			return
		}
		log.Printf("sync: %s", report.String())
	}

	run()
	if *once {
		return
	}

	if *watch {
		go func() {
			if err := syncer.Watch(rootCtx); err != nil && rootCtx.Err() == nil {
				log.Printf("file watch stopped: %v", err)
			}
		}()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			log.Printf("sync stopping: %v", rootCtx.Err())
			return
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
		}
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
