package chain

import (
	"context"
	"errors"

	"github.com/vietddude/offerwatch/internal/core/domain"
)

// ErrCheckpointNotFound is returned when the node has not produced the checkpoint yet
// or has pruned it.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointSource is the boundary between the pipeline and a chain node.
type CheckpointSource interface {
	// LatestCheckpoint returns the sequence number of the newest executed checkpoint.
	LatestCheckpoint(ctx context.Context) (uint64, error)

	// GetCheckpoint fetches a checkpoint with its transactions and their events, in
	// checkpoint order.
	GetCheckpoint(ctx context.Context, sequenceNumber uint64) (*domain.Checkpoint, error)
}
