package collector

import (
	"fmt"
	"sync"

	"github.com/jafechang/atlas/internal/domain/source"
)

var (
	mu         sync.RWMutex
	factories  = make(map[source.Type]Factory)
)

// Register makes a Collector factory available for the given source type.
// Typically called from an adapter package's init().
func Register(t source.Type, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[t]; exists {
		panic(fmt.Sprintf("collector: duplicate registration for %q", t))
	}
	factories[t] = factory
}

// New creates a Collector for the given source type using its registered
// factory.
func New(t source.Type) (Collector, error) {
	mu.RLock()
	factory, ok := factories[t]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("collector: unknown source type %q", t)
	}
	return factory(), nil
}

// Available returns the registered source types.
func Available() []source.Type {
	mu.RLock()
	defer mu.RUnlock()

	types := make([]source.Type, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	return types
}
