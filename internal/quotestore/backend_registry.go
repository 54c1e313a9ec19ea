package quotestore

import (
	"strings"
	"sync"
)

type StateBackendFactory func(dsn string) (StateBackend, error)
type ImportQueueFactory func(dsn string, capacity int) (ImportQueue, error)
type ArchiveQueueFactory func(dsn string, capacity int) (ArchiveQueue, error)

var backendFactoryRegistry = struct {
	mu               sync.RWMutex
	stateFactories   map[string]StateBackendFactory
	importFactories  map[string]ImportQueueFactory
	archiveFactories map[string]ArchiveQueueFactory
}{
	stateFactories:   map[string]StateBackendFactory{},
	importFactories:  map[string]ImportQueueFactory{},
	archiveFactories: map[string]ArchiveQueueFactory{},
}

func RegisterStateBackendFactory(scheme string, factory StateBackendFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.stateFactories[scheme] = factory
}

func RegisterImportQueueFactory(scheme string, factory ImportQueueFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.importFactories[scheme] = factory
}

func RegisterArchiveQueueFactory(scheme string, factory ArchiveQueueFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.archiveFactories[scheme] = factory
}

func lookupStateBackendFactory(scheme string) (StateBackendFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.stateFactories[scheme]
	return factory, ok
}

func lookupImportQueueFactory(scheme string) (ImportQueueFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.importFactories[scheme]
	return factory, ok
}

func lookupArchiveQueueFactory(scheme string) (ArchiveQueueFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.archiveFactories[scheme]
	return factory, ok
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
