package sui

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/indexing/metrics"
	"github.com/vietddude/offerwatch/internal/infra/chain"
	"github.com/vietddude/offerwatch/internal/infra/rpc"
)

// Caller is the JSON-RPC transport the adapter needs.
type Caller interface {
	Call(ctx context.Context, method string, result any, params ...any) error
}

// Adapter implements chain.CheckpointSource over the Sui JSON-RPC API.
type Adapter struct {
	client Caller
}

// Ensure Adapter implements chain.CheckpointSource
var _ chain.CheckpointSource = (*Adapter)(nil)

var _ Caller = (*rpc.HTTPClient)(nil)

// NewAdapter creates a new Sui adapter
func NewAdapter(client Caller) *Adapter {
	return &Adapter{client: client}
}

// LatestCheckpoint returns the latest executed checkpoint sequence number
func (a *Adapter) LatestCheckpoint(ctx context.Context) (uint64, error) {
	var res string
	if err := a.client.Call(ctx, methodLatestCheckpoint, &res); err != nil {
		return 0, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	seq, err := parseU64("sequence number", res)
	if err != nil {
		return 0, err
	}
	metrics.ChainLatestCheckpoint.Set(float64(seq))
	return seq, nil
}

// GetCheckpoint returns a checkpoint with the events of every transaction, in the
// order the checkpoint lists them.
func (a *Adapter) GetCheckpoint(ctx context.Context, sequenceNumber uint64) (*domain.Checkpoint, error) {
	var cp checkpointResponse
	err := a.client.Call(ctx, methodGetCheckpoint, &cp, strconv.FormatUint(sequenceNumber, 10))
	if err != nil {
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) {
			return nil, fmt.Errorf("%w: %d: %v", chain.ErrCheckpointNotFound, sequenceNumber, err)
		}
		return nil, fmt.Errorf("failed to get checkpoint %d: %w", sequenceNumber, err)
	}

	seq, err := parseU64("sequence number", cp.SequenceNumber)
	if err != nil {
		return nil, err
	}
	if seq != sequenceNumber {
		return nil, fmt.Errorf("asked for checkpoint %d, node returned %d", sequenceNumber, seq)
	}
	ts, err := parseU64("timestamp", cp.TimestampMs)
	if err != nil {
		return nil, err
	}

	txs, err := a.getTransactions(ctx, cp.Transactions)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %d: %w", sequenceNumber, err)
	}

	return &domain.Checkpoint{
		SequenceNumber: seq,
		Digest:         cp.Digest,
		TimestampMs:    ts,
		Transactions:   txs,
	}, nil
}

// getTransactions fetches events in chunks and returns them in the order of digests.
func (a *Adapter) getTransactions(ctx context.Context, digests []string) ([]domain.CheckpointTx, error) {
	out := make([]domain.CheckpointTx, 0, len(digests))

	for start := 0; start < len(digests); start += maxTxBlocksPerRequest {
		end := min(start+maxTxBlocksPerRequest, len(digests))
		chunk := digests[start:end]

		var blocks []txBlockResponse
		if err := a.client.Call(ctx, methodMultiGetTxBlocks, &blocks, chunk, txBlockOptions{ShowEvents: true}); err != nil {
			return nil, fmt.Errorf("failed to get transactions: %w", err)
		}

		byDigest := make(map[string]*txBlockResponse, len(blocks))
		for i := range blocks {
			byDigest[blocks[i].Digest] = &blocks[i]
		}

		for _, digest := range chunk {
			block, ok := byDigest[digest]
			if !ok {
				return nil, fmt.Errorf("transaction %s missing from response", digest)
			}
			tx, err := toCheckpointTx(block)
			if err != nil {
				return nil, err
			}
			out = append(out, tx)
		}
	}
	return out, nil
}

func toCheckpointTx(block *txBlockResponse) (domain.CheckpointTx, error) {
	tx := domain.CheckpointTx{
		Digest: block.Digest,
		Events: make([]domain.RawEvent, 0, len(block.Events)),
	}
	for i := range block.Events {
		ev := &block.Events[i]
		contents, err := ev.contents()
		if err != nil {
			return tx, fmt.Errorf("tx %s event %s: %w", block.Digest, ev.ID.EventSeq, err)
		}
		tx.Events = append(tx.Events, domain.RawEvent{Type: ev.Type, Contents: contents})
	}
	return tx, nil
}
