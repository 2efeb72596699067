// Package extractor walks Sui checkpoints and pulls out the offer contract events in order.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/indexing/decoder"
	"github.com/vietddude/offerwatch/internal/indexing/metrics"
)

// ErrInvalidTimestamp is returned when a checkpoint timestamp cannot be represented.
var ErrInvalidTimestamp = errors.New("checkpoint timestamp out of range")

// maxTimestampMs is 9999-12-31T23:59:59.999Z.
var maxTimestampMs = time.Date(9999, 12, 31, 23, 59, 59, 999_000_000, time.UTC).UnixMilli()

const defaultConcurrency = 4

// Extractor turns checkpoints into ordered event envelopes.
type Extractor struct {
	decoder     *decoder.Decoder
	concurrency int
}

// New creates an extractor. concurrency bounds ExtractAll; values below 1 use the default.
func New(dec *decoder.Decoder, concurrency int) *Extractor {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	return &Extractor{decoder: dec, concurrency: concurrency}
}

// Extract returns the offer events of a checkpoint in transaction order, then event order.
// Any decode failure discards the whole checkpoint.
func (e *Extractor) Extract(cp *domain.Checkpoint) ([]domain.EventEnvelope, error) {
	createdAt, err := checkpointTime(cp.TimestampMs)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %d: %w", cp.SequenceNumber, err)
	}

	var out []domain.EventEnvelope
	for txIndex, tx := range cp.Transactions {
		for seq, raw := range tx.Events {
			event, ok, err := e.decoder.Decode(raw.Type, raw.Contents)
			if err != nil {
				return nil, fmt.Errorf("checkpoint %d tx %s event %d: %w", cp.SequenceNumber, tx.Digest, seq, err)
			}
			if !ok {
				continue
			}
			metrics.EventsDecoded.WithLabelValues(string(event.Kind())).Inc()
			out = append(out, domain.EventEnvelope{
				Event:      event,
				Checkpoint: cp.SequenceNumber,
				TxDigest:   tx.Digest,
				TxIndex:    txIndex,
				EventSeq:   seq,
				TypeTag:    raw.Type,
				Payload:    raw.Contents,
				CreatedAt:  createdAt,
			})
		}
	}
	return out, nil
}

// ExtractAll extracts checkpoints concurrently and concatenates the results in input order.
// The first error cancels the remaining work.
func (e *Extractor) ExtractAll(ctx context.Context, checkpoints []*domain.Checkpoint) ([]domain.EventEnvelope, error) {
	results := make([][]domain.EventEnvelope, len(checkpoints))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, cp := range checkpoints {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			envs, err := e.Extract(cp)
			if err != nil {
				return err
			}
			results[i] = envs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, r := range results {
		total += len(r)
	}
	out := make([]domain.EventEnvelope, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func checkpointTime(ms uint64) (time.Time, error) {
	if ms > math.MaxInt64 || int64(ms) > maxTimestampMs {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidTimestamp, ms)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}
