package main

import "github.com/google/wire"

// engineSet lists the hand-written providers the injector composes.
// Everything else in the engine is constructed by plain function calls
// inside wire_gen.go's assembly chain.
var engineSet = wire.NewSet(
	provideTenants,
	provideSecretLookup,
	provideLegacyDB,
)
