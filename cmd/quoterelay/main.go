package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bennah995/quoterelay/internal/httpapi"
	"github.com/bennah995/quoterelay/internal/quotestore"
)

func main() {
	addr := os.Getenv("QUOTERELAY_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	stateBackend, importQueue, archiveQueue, err := buildStorageBackendsFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize storage backends: %v", err)
	}

	store := quotestore.NewStoreWithOptions(quotestore.StoreOptions{
		StateBackend:       stateBackend,
		StateFile:          os.Getenv("QUOTERELAY_STATE_FILE"),
		ArchiveClient:      buildArchiveClientFromEnv(),
		MaxArchiveAttempts: intEnv("QUOTERELAY_MAX_ARCHIVE_ATTEMPTS", 0),
		ArchiveRetryDelay:  durationEnv("QUOTERELAY_ARCHIVE_RETRY_DELAY", 0),
		MaxImportAttempts:  intEnv("QUOTERELAY_MAX_IMPORT_ATTEMPTS", 0),
		ImportRetryDelay:   durationEnv("QUOTERELAY_IMPORT_RETRY_DELAY", 0),
		MaxStoredImports:   intEnv("QUOTERELAY_MAX_STORED_IMPORTS", 0),
		ImportQueueSize:    intEnv("QUOTERELAY_IMPORT_QUEUE_SIZE", 0),
		ImportQueue:        importQueue,
		ArchiveQueue:       archiveQueue,
		ImportWorkers:      intEnv("QUOTERELAY_IMPORT_WORKERS", 0),
		ArchiveWorkers:     intEnv("QUOTERELAY_ARCHIVE_WORKERS", 0),
		BackendProfile:     strings.TrimSpace(os.Getenv("QUOTERELAY_BACKEND_PROFILE")),
	})
	defer store.Close()

	server := httpapi.NewServer(store, httpapi.ServerConfig{
		JWTSecret:          os.Getenv("QUOTERELAY_JWT_SECRET"),
		InternalHMACSecret: os.Getenv("QUOTERELAY_INTERNAL_HMAC_SECRET"),
		InternalMaxSkew:    durationEnv("QUOTERELAY_INTERNAL_MAX_SKEW", 5*time.Minute),
		RateLimitMax:       intEnv("QUOTERELAY_RATE_LIMIT_MAX", 0),
		RateLimitWindow:    durationEnv("QUOTERELAY_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:       int64Env("QUOTERELAY_MAX_BODY_BYTES", 0),
	}, log.Default())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("quoterelay listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		log.Fatalf("server failed: %v", err)
	case <-rootCtx.Done():
		log.Printf("quoterelay shutting down: %v", rootCtx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown incomplete: %v", err)
		}
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
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

func buildStorageBackendsFromEnv() (quotestore.StateBackend, quotestore.ImportQueue, quotestore.ArchiveQueue, error) {
	if _, _, _, err := storageProfileDefaultsFromEnv(); err != nil {
		return nil, nil, nil, err
	}
	stateBackend, err := buildStateBackendFromEnv()
	if err != nil {
		return nil, nil, nil, err
	}
	importQueue, archiveQueue, err := buildQueuesFromEnv()
	if err != nil {
		return nil, nil, nil, err
	}
	return stateBackend, importQueue, archiveQueue, nil
}

func buildStateBackendFromEnv() (quotestore.StateBackend, error) {
	profileStateDSN, _, _, err := storageProfileDefaultsFromEnv()
	if err != nil {
		return nil, err
	}
	stateBackendDSN := strings.TrimSpace(os.Getenv("QUOTERELAY_STATE_BACKEND_DSN"))
	stateFile := strings.TrimSpace(os.Getenv("QUOTERELAY_STATE_FILE"))
	switch {
	case stateBackendDSN != "":
		return quotestore.BuildStateBackendFromDSN(stateBackendDSN)
	case stateFile != "":
		return quotestore.BuildStateBackendFromDSN(stateFile)
	case profileStateDSN != "":
		return quotestore.BuildStateBackendFromDSN(profileStateDSN)
	default:
		return nil, nil
	}
}

func buildQueuesFromEnv() (quotestore.ImportQueue, quotestore.ArchiveQueue, error) {
	_, profileImportQueueDSN, profileArchiveQueueDSN, err := storageProfileDefaultsFromEnv()
	if err != nil {
		return nil, nil, err
	}
	importQueueDSN := strings.TrimSpace(os.Getenv("QUOTERELAY_IMPORT_QUEUE_DSN"))
	archiveQueueDSN := strings.TrimSpace(os.Getenv("QUOTERELAY_ARCHIVE_QUEUE_DSN"))
	if importQueueDSN == "" {
		importQueueDSN = profileImportQueueDSN
	}
	if archiveQueueDSN == "" {
		archiveQueueDSN = profileArchiveQueueDSN
	}

	var importQueue quotestore.ImportQueue
	var archiveQueue quotestore.ArchiveQueue
	if importQueueDSN != "" {
		importQueue, err = quotestore.BuildImportQueueFromDSN(importQueueDSN, intEnv("QUOTERELAY_IMPORT_QUEUE_SIZE", 0))
		if err != nil {
			return nil, nil, err
		}
	}
	if archiveQueueDSN != "" {
		archiveQueue, err = quotestore.BuildArchiveQueueFromDSN(archiveQueueDSN, intEnv("QUOTERELAY_ARCHIVE_QUEUE_SIZE", 1024))
		if err != nil {
			return nil, nil, err
		}
	}
	return importQueue, archiveQueue, nil
}

func storageProfileDefaultsFromEnv() (stateBackendDSN, importQueueDSN, archiveQueueDSN string, err error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("QUOTERELAY_BACKEND_PROFILE")))
	dataDir := strings.TrimSpace(os.Getenv("QUOTERELAY_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".quoterelay"
	}
	switch profile {
	case "", "custom":
		return "", "", "", nil
	case "memory", "inmemory":
		return "memory://", "memory://", "memory://", nil
	case "production", "prod":
		productionDSN := strings.TrimSpace(os.Getenv("QUOTERELAY_PRODUCTION_DSN"))
		if productionDSN == "" {
			productionDSN = strings.TrimSpace(os.Getenv("QUOTERELAY_POSTGRES_DSN"))
		}
		if productionDSN == "" {
			return "", "", "", fmt.Errorf("QUOTERELAY_PRODUCTION_DSN or QUOTERELAY_POSTGRES_DSN is required when QUOTERELAY_BACKEND_PROFILE=%s", profile)
		}
		return productionDSN, productionDSN, productionDSN, nil
	case "durable-local", "local-durable":
		return "file://" + filepath.Join(dataDir, "state.json"),
			"file://" + filepath.Join(dataDir, "import-queue.json"),
			"file://" + filepath.Join(dataDir, "archive-queue.json"),
			nil
	default:
		return "", "", "", fmt.Errorf("unsupported QUOTERELAY_BACKEND_PROFILE: %s", profile)
	}
}

func buildArchiveClientFromEnv() quotestore.ArchiveClient {
	baseURL := strings.TrimSpace(os.Getenv("QUOTERELAY_ARCHIVE_URL"))
	if baseURL == "" {
		// Deletes are acknowledged locally when no archive service is configured.
		return nil
	}
	token := strings.TrimSpace(os.Getenv("QUOTERELAY_ARCHIVE_TOKEN"))
	var provider quotestore.ArchiveTokenProvider
	if token != "" {
		provider = func(context.Context) (string, error) { return token, nil }
	}
	return quotestore.NewHTTPArchiveClient(quotestore.ArchiveHTTPClientOptions{
		BaseURL:       baseURL,
		TokenProvider: provider,
		MaxRetries:    intEnv("QUOTERELAY_ARCHIVE_MAX_RETRIES", 0),
	})
}
