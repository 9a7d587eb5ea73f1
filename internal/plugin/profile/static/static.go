package static

import (
	"context"

	"github.com/chirino/ticket-chat/internal/config"
	registryprofile "github.com/chirino/ticket-chat/internal/registry/profile"
)

func init() {
	registryprofile.Register(registryprofile.Plugin{
		Name: "static",
		Loader: func(ctx context.Context) (registryprofile.Directory, error) {
			return New(config.FromContext(ctx).ParseStaticProfiles()), nil
		},
	})
}

// Directory serves display names from a fixed map, typically from TICKET_CHAT_STATIC_PROFILES.
type Directory struct {
	names map[string]string
}

func New(names map[string]string) *Directory {
	copied := make(map[string]string, len(names))
	for id, name := range names {
		copied[id] = name
	}
	return &Directory{names: copied}
}

func (d *Directory) DisplayName(_ context.Context, userID string) (string, bool, error) {
	name, ok := d.names[userID]
	return name, ok, nil
}

var _ registryprofile.Directory = (*Directory)(nil)
