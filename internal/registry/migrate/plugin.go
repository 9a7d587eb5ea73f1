package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
)

// Migrator runs schema migrations for a single store plugin.
type Migrator interface {
	Name() string
	// Applies reports whether the migrator targets the configured datastore.
	Applies(ctx context.Context) bool
	Migrate(ctx context.Context) error
}

// Plugin represents a migrator with an order for deterministic execution sequence.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// RunAll executes every registered migrator that applies to the configured datastore,
// sorted by Order. It returns the number of migrators that ran.
func RunAll(ctx context.Context) (int, error) {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	ran := 0
	for _, p := range sorted {
		if !p.Migrator.Applies(ctx) {
			continue
		}
		log.Info("Running migration", "name", p.Migrator.Name())
		if err := p.Migrator.Migrate(ctx); err != nil {
			return ran, fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
		ran++
	}
	return ran, nil
}
