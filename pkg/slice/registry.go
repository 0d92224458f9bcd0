package slice

import (
	"sort"
	"sync"

	"github.com/ajitpratap0/tessera/pkg/errors"
)

// SourceFactory builds a source for one slice argument. The argument is
// whatever the provider handed over (typically a path or identifier);
// kwargs carries slice_source_kwargs from the configuration.
type SourceFactory func(arg string, kwargs map[string]interface{}) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]SourceFactory{}
)

// RegisterSource makes a named source factory available to the
// slice_source configuration setting. Registration typically happens in
// package init functions.
func RegisterSource(name string, factory SourceFactory) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		return errors.Newf(errors.ErrorTypeInternal,
			"slice source %q is already registered", name)
	}
	registry[name] = factory
	return nil
}

// NewSource builds a source from a registered factory.
func NewSource(name, arg string, kwargs map[string]interface{}) (Source, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"unknown slice source %q", name)
	}
	return factory(arg, kwargs)
}

// ListSources returns the registered source names.
func ListSources() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
