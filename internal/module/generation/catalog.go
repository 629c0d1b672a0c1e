package generation

import (
	"sync"

	"github.com/genforge/server/internal/module/pricing"
)

// ModelSpec describes one provider model offered to users.
type ModelSpec struct {
	Name string
	Rule pricing.Rule
	// Sync models are held open with Prefer: wait; async ones complete
	// through webhook events.
	Sync bool
	// MaxUnits caps fan-out for one request. Zero means 1.
	MaxUnits int
}

// Catalog is the registry of supported models. Registration happens at
// startup; lookups are concurrent.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]*ModelSpec
}

func NewCatalog() *Catalog {
	return &Catalog{models: make(map[string]*ModelSpec)}
}

func (c *Catalog) Register(spec *ModelSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[spec.Name] = spec
}

func (c *Catalog) Get(name string) (*ModelSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.models[name]
	return spec, ok
}

// Monitored reports whether webhook events for the model should be applied.
func (c *Catalog) Monitored(name string) bool {
	_, ok := c.Get(name)
	return ok
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	return names
}
