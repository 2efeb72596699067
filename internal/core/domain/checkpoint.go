package domain

// Checkpoint is a sequentially numbered batch of finalized Sui transactions.
type Checkpoint struct {
	SequenceNumber uint64
	Digest         string
	TimestampMs    uint64
	Transactions   []CheckpointTx
}

// CheckpointTx is a transaction inside a checkpoint and the events it emitted, in order.
type CheckpointTx struct {
	Digest string
	Events []RawEvent
}

// RawEvent is an event as emitted on chain: a fully qualified Move type and its BCS contents.
type RawEvent struct {
	Type     string
	Contents []byte
}

// Watermark records how far a pipeline has durably committed.
type Watermark struct {
	Pipeline              string
	CheckpointHiInclusive uint64
	TimestampMsHi         uint64
	UpdatedAt             int64
}
