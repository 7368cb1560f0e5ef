// Package server hosts the Fiber admin service and the runtime wiring that the
// CLI and HTTP surfaces share. NewRuntime assembles cache backend, activation
// store, module sources and command handlers from config; NewApp builds the
// Fiber application with request-id and access-log middleware. Route handlers
// live in the routes subpackage so they can depend on this package without a
// cycle.
package server
