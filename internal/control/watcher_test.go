package control

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/offerwatch/internal/core/config"
	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/indexing/decoder"
	"github.com/vietddude/offerwatch/internal/indexing/health"
	"github.com/vietddude/offerwatch/internal/indexing/throttle"
	"github.com/vietddude/offerwatch/internal/infra/storage/memory"
)

const packageID = "0x5eed"

var buyer = domain.Address{31: 0x01}

// suiNode serves a two-checkpoint chain with a single OfferPlaced event.
func suiNode(t *testing.T) *httptest.Server {
	typeName, payload := decoder.Encode(domain.OfferPlaced{
		DomainName: []byte("example.sui"),
		Address:    buyer,
		Value:      1_000,
	})

	checkpoints := map[string]any{
		"0": map[string]any{"sequenceNumber": "0", "digest": "cp0", "timestampMs": "1700000000000", "transactions": []string{}},
		"1": map[string]any{"sequenceNumber": "1", "digest": "cp1", "timestampMs": "1700000001000", "transactions": []string{"tx1"}},
	}
	tx := map[string]any{
		"digest": "tx1",
		"events": []any{map[string]any{
			"id":          map[string]any{"txDigest": "tx1", "eventSeq": "0"},
			"packageId":   packageID,
			"type":        decoder.TypeTag(packageID, "offer", typeName),
			"bcsEncoding": "base64",
			"bcs":         base64.StdEncoding.EncodeToString(payload),
		}},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		var result any
		switch req.Method {
		case "sui_getLatestCheckpointSequenceNumber":
			result = "1"
		case "sui_getCheckpoint":
			var id string
			_ = json.Unmarshal(req.Params[0], &id)
			result = checkpoints[id]
		case "sui_multiGetTransactionBlocks":
			result = []any{tx}
		default:
			t.Errorf("unexpected method %s", req.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func testConfig(rpcURL string) Config {
	return Config{
		Port: 0,
		Sui: config.SuiConfig{
			RPCURL:            rpcURL,
			Timeout:           5 * time.Second,
			ContractPackageID: packageID,
		},
		Indexer: config.IndexerConfig{
			Pipeline:          "offers",
			BatchSize:         10,
			IngestConcurrency: 2,
			ScanInterval:      50 * time.Millisecond,
			RetryMaxElapsed:   time.Second,
			Throttle:          throttle.DefaultConfig(),
		},
	}
}

func TestWatcher_Lifecycle(t *testing.T) {
	node := suiNode(t)
	defer node.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := NewWatcher(context.Background(), testConfig(node.URL), logger)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if _, ok := w.store.(*memory.MemoryStorage); !ok {
		t.Fatalf("expected memory storage without a database URL, got %T", w.store)
	}
	if w.lease != nil || w.grpcServer != nil {
		t.Fatal("lease and gRPC server should be disabled by default")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		s := w.Status()
		if s.Watermark != nil && *s.Watermark == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pipeline did not reach checkpoint 1, status %+v", s)
		}
		time.Sleep(20 * time.Millisecond)
	}

	offer, err := w.store.Offers().Latest(ctx, "example.sui", buyer.String())
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if offer == nil {
		t.Fatal("expected the placed offer to be stored")
	}
	if offer.Status != domain.OfferStatusPlaced {
		t.Errorf("status = %s, want placed", offer.Status)
	}
	if offer.Value.IntPart() != 1_000 {
		t.Errorf("value = %s, want 1000", offer.Value)
	}

	report := w.Health(ctx)
	if report.Storage != health.StatusHealthy {
		t.Errorf("storage status = %s, want healthy", report.Storage)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if got := w.Status().State; got != "stopped" {
		t.Errorf("state after Stop = %s, want stopped", got)
	}
}

func TestConfigFromApp(t *testing.T) {
	app := &config.AppConfig{
		Server: config.ServerConfig{Port: 9000, GRPCPort: 9001},
		Sui:    config.SuiConfig{RPCURL: "http://node", ContractPackageID: packageID},
	}
	app.Indexer.Pipeline = "offers"

	cfg := ConfigFromApp(app)
	if cfg.Port != 9000 || cfg.GRPCPort != 9001 {
		t.Errorf("ports = %d/%d", cfg.Port, cfg.GRPCPort)
	}
	if cfg.Sui.RPCURL != "http://node" || cfg.Indexer.Pipeline != "offers" {
		t.Errorf("unexpected config %+v", cfg)
	}
}
