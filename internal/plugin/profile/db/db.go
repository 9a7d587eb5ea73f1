package db

import (
	"context"

	"github.com/chirino/ticket-chat/internal/config"
	"github.com/chirino/ticket-chat/internal/plugin/store/gormstore"
	registryprofile "github.com/chirino/ticket-chat/internal/registry/profile"
)

func init() {
	registryprofile.Register(registryprofile.Plugin{
		Name: "db",
		Loader: func(ctx context.Context) (registryprofile.Directory, error) {
			db, err := gormstore.OpenDB(config.FromContext(ctx))
			if err != nil {
				return nil, err
			}
			// The profiles table lives next to the messages in the configured datastore.
			return gormstore.New(db), nil
		},
	})
}

var _ registryprofile.Directory = (*gormstore.Store)(nil)
