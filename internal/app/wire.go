//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"

	"github.com/notecompanion/server/internal/shared/config"
)

// InitializeApp builds the application graph with wire. The manual
// constructor in New is the runtime path; this injector keeps the
// provider sets honest.
func InitializeApp(cfg *config.Config) (*App, error) {
	wire.Build(AppSet)
	return nil, nil
}
