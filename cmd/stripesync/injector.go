//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/dbashand/stripe-sync-engine/internal/util/stopper"
)

// newEngine assembles the full sync engine from config.
func newEngine(ctx *stopper.Context, config *Config) (*engine, func(), error) {
	panic(wire.Build(engineSet))
}
