// Package core is the orchestration layer.  It composes the listener,
// the per-connection handlers and the route handlers into complete
// operational modes and provides a builder that selects the right mode
// from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  capability  →  session  →  core  →  cmd (CLI)
//
// Both the proxy and the credential broker run on the same
// [ListenMode]; only the [ConnHandler] differs.
package core

import (
	"context"
	"net"
)

// Mode represents a complete operational mode (proxy or broker).
// Each mode owns its full lifecycle from bind to shutdown.
type Mode interface {
	Run(ctx context.Context) error
}

// ConnHandler serves one accepted connection and closes it.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}
