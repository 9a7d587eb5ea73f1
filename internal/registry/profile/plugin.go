package profile

import (
	"context"
	"fmt"
)

// Directory looks up participants' public profiles.
type Directory interface {
	// DisplayName returns the user's display name. ok is false when the user is
	// unknown or has no display name set.
	DisplayName(ctx context.Context, userID string) (name string, ok bool, err error)
}

// DirectoryFunc adapts a function to the Directory interface.
type DirectoryFunc func(ctx context.Context, userID string) (string, bool, error)

func (f DirectoryFunc) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	return f(ctx, userID)
}

// Loader creates a Directory from config.
type Loader func(ctx context.Context) (Directory, error)

// Plugin represents a profile directory plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a profile directory plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered profile directory plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named profile directory plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown profile directory %q; valid: %v", name, Names())
}
