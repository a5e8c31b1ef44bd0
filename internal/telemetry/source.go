// Package telemetry reads laptop vitals and feeds them to the status
// publisher.
package telemetry

import (
	"context"

	"notifrelay/internal/status"
)

// Source produces one snapshot per call.
type Source interface {
	Read(ctx context.Context) (status.Snapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (status.Snapshot, error)

func (f SourceFunc) Read(ctx context.Context) (status.Snapshot, error) { return f(ctx) }

// Target receives snapshots; *status.Publisher implements it.
type Target interface {
	Set(s status.Snapshot)
}
