// Package ctxutil carries request-scoped identity through a context.
// It has no internal dependencies so any layer can import it.
package ctxutil

import "context"

type actorKey struct{}

type runKey struct{}

// WithActorID returns a context naming the user behind a mutation.
func WithActorID(ctx context.Context, actorID string) context.Context {
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the actor ID, or "" for system work such as a sweep.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// WithRunID tags a context with the sweep run that is doing the work.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunIDFromContext returns the sweep run ID, or "" outside a sweep.
func RunIDFromContext(ctx context.Context) string {
	run, _ := ctx.Value(runKey{}).(string)
	return run
}
