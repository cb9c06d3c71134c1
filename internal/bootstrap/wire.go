//go:build wireinject
// +build wireinject

//go:generate wire

package bootstrap

import (
	"context"

	"github.com/google/wire"
)

// InitializeApp builds the *App with all its dependencies from the provider set.
// The returned cleanup closes sockets, the session store and the NATS connection.
func InitializeApp(ctx context.Context, flags Flags) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
