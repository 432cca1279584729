package engine

import (
	"context"

	"github.com/blockberries/dagberry/types"
)

// Synchronizer fetches blocks that are referenced but not locally known.
// It is an external collaborator: implementations live with the network
// transport. A request is fire-and-forget; the fetched block is delivered
// back through the engine's normal submission path, or not at all, in
// which case the referencing block times out of the pending buffer and
// must be redelivered.
type Synchronizer interface {
	RequestAncestor(ctx context.Context, ref types.BlockReference)
}

// NopSynchronizer ignores all requests. Used when every peer broadcasts
// every block (tests, local simulation).
type NopSynchronizer struct{}

// RequestAncestor implements Synchronizer.
func (NopSynchronizer) RequestAncestor(context.Context, types.BlockReference) {}

// FuncSynchronizer adapts a function to the Synchronizer interface.
type FuncSynchronizer func(ctx context.Context, ref types.BlockReference)

// RequestAncestor implements Synchronizer.
func (f FuncSynchronizer) RequestAncestor(ctx context.Context, ref types.BlockReference) {
	f(ctx, ref)
}
