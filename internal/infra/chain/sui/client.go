package sui

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcutil/base58"
)

// JSON-RPC methods used by the adapter.
const (
	methodLatestCheckpoint = "sui_getLatestCheckpointSequenceNumber"
	methodGetCheckpoint    = "sui_getCheckpoint"
	methodMultiGetTxBlocks = "sui_multiGetTransactionBlocks"
)

const (
	// maxTxBlocksPerRequest is the node's limit for sui_multiGetTransactionBlocks.
	maxTxBlocksPerRequest = 50
	bcsEncodingBase64     = "base64"
)

// checkpointResponse is the subset of sui_getCheckpoint the adapter reads.
// Sui encodes u64 values as decimal strings.
type checkpointResponse struct {
	SequenceNumber string   `json:"sequenceNumber"`
	Digest         string   `json:"digest"`
	TimestampMs    string   `json:"timestampMs"`
	Transactions   []string `json:"transactions"`
}

type txBlockOptions struct {
	ShowEvents bool `json:"showEvents"`
}

type txBlockResponse struct {
	Digest string          `json:"digest"`
	Events []eventResponse `json:"events"`
}

type eventResponse struct {
	ID struct {
		TxDigest string `json:"txDigest"`
		EventSeq string `json:"eventSeq"`
	} `json:"id"`
	PackageID   string `json:"packageId"`
	Type        string `json:"type"`
	BcsEncoding string `json:"bcsEncoding"`
	Bcs         string `json:"bcs"`
}

// contents returns the raw BCS bytes of the event. Nodes that predate the
// bcsEncoding field send base58.
func (e *eventResponse) contents() ([]byte, error) {
	if e.BcsEncoding == bcsEncodingBase64 {
		b, err := base64.StdEncoding.DecodeString(e.Bcs)
		if err != nil {
			return nil, fmt.Errorf("decode base64 bcs: %w", err)
		}
		return b, nil
	}
	b := base58.Decode(e.Bcs)
	if len(b) == 0 && e.Bcs != "" {
		return nil, fmt.Errorf("decode base58 bcs: invalid input")
	}
	return b, nil
}

func parseU64(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return v, nil
}
