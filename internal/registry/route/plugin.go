package route

import (
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader initializes routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// Plugin represents a management route plugin with an order for deterministic mount sequence.
type Plugin struct {
	Order  int
	Loader RouterLoader
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
}

// Loaders returns the registered loaders sorted by order.
func Loaders() []RouterLoader {
	mu.Lock()
	defer mu.Unlock()
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	loaders := make([]RouterLoader, len(sorted))
	for i, p := range sorted {
		loaders[i] = p.Loader
	}
	return loaders
}

// Mount applies every registered loader to r.
func Mount(r *gin.Engine) error {
	for _, load := range Loaders() {
		if err := load(r); err != nil {
			return err
		}
	}
	return nil
}
