package api

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"MerkleBatch-Chain/internal/batch"
	xerrors "MerkleBatch-Chain/internal/errors"
	"MerkleBatch-Chain/internal/observability/metrics"
	"MerkleBatch-Chain/internal/proofs"
	"MerkleBatch-Chain/internal/service"
	"MerkleBatch-Chain/internal/storage/mysql"
	"MerkleBatch-Chain/internal/txn"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	collector := metrics.NewCollector()
	svc := service.New(batch.NewEngine(),
		service.WithRepository(mysql.NewMemoryBatchRepository(16)),
		service.WithMetrics(collector),
	)
	server := NewServer(":0", svc, WithMetrics(collector))
	return server, server.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func demoRecords() []hexutil.Bytes {
	records := txn.SignBatch(txn.DemoBatch(batch.DefaultBatchSize))
	out := make([]hexutil.Bytes, len(records))
	for i, r := range records {
		out[i] = hexutil.Bytes(r)
	}
	return out
}

func TestCommitExecuteAndList(t *testing.T) {
	_, h := newTestServer(t)
	records := demoRecords()

	rec := do(t, h, http.MethodPost, "/api/v1/commitments", map[string]any{"records": records})
	if rec.Code != http.StatusCreated {
		t.Fatalf("commit status %d: %s", rec.Code, rec.Body)
	}
	var commitment commitmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &commitment); err != nil {
		t.Fatalf("decode commitment: %v", err)
	}
	if len(commitment.Proofs) != len(records) {
		t.Fatalf("expected %d proofs, got %d", len(records), len(commitment.Proofs))
	}

	rec = do(t, h, http.MethodGet, "/api/v1/root", nil)
	var root rootBody
	_ = json.Unmarshal(rec.Body.Bytes(), &root)
	if rec.Code != http.StatusOK || !bytes.Equal(root.Root, commitment.Root.Bytes()) {
		t.Fatalf("unexpected root response %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/batches", map[string]any{"records": records, "proofs": commitment.Proofs})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status %d: %s", rec.Code, rec.Body)
	}
	var outcome outcomeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if !outcome.Executed || outcome.Count != len(records) || outcome.FailedIndex != -1 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if string(outcome.Entries[0].Record) != string(records[0]) {
		t.Fatalf("entry record mismatch")
	}

	rec = do(t, h, http.MethodGet, "/api/v1/batches?limit=5", nil)
	var history []mysql.BatchRecord
	_ = json.Unmarshal(rec.Body.Bytes(), &history)
	if len(history) != 1 || history[0].BatchID != outcome.BatchID {
		t.Fatalf("unexpected history %s", rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/executions?limit=3", nil)
	var entries []entryView
	_ = json.Unmarshal(rec.Body.Bytes(), &entries)
	if len(entries) != 3 || entries[2].Index != len(records)-1 {
		t.Fatalf("unexpected executions %s", rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), `merklebatch_batches_total{outcome="executed"} 1`) {
		t.Fatalf("metrics missing executed batch:\n%s", rec.Body)
	}
}

func TestRejectedBatchReturnsOutcome(t *testing.T) {
	_, h := newTestServer(t)
	records := demoRecords()

	rec := do(t, h, http.MethodPost, "/api/v1/commitments", map[string]any{"records": records})
	var commitment commitmentResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &commitment)

	commitment.Proofs[2][0].Sibling[5] ^= 0x01
	rec = do(t, h, http.MethodPost, "/api/v1/batches", map[string]any{"records": records, "proofs": commitment.Proofs})
	if rec.Code != http.StatusOK {
		t.Fatalf("rejection is not an HTTP error, got %d", rec.Code)
	}
	var outcome outcomeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &outcome)
	if outcome.Executed || outcome.FailedIndex != 2 || len(outcome.Entries) != 0 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestTransactionsAreSignedServerSide(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/v1/proofs", map[string]any{"transactions": txn.DemoBatch(batch.DefaultBatchSize)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp commitmentResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if string(resp.Records[0]) != "0xSENDER1|0xRECEIVER1|100|tx-1" {
		t.Fatalf("unexpected signed record %q", resp.Records[0])
	}
}

func TestVerifyEndpoint(t *testing.T) {
	_, h := newTestServer(t)
	records := demoRecords()
	rec := do(t, h, http.MethodPost, "/api/v1/proofs", map[string]any{"records": records})
	var c commitmentResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &c)

	body := map[string]any{"record": records[6], "proof": c.Proofs[6], "root": hexutil.Bytes(c.Root.Bytes())}
	rec = do(t, h, http.MethodPost, "/api/v1/verify", body)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"valid":true`) {
		t.Fatalf("expected valid proof, got %d %s", rec.Code, rec.Body)
	}

	body["record"] = records[7]
	rec = do(t, h, http.MethodPost, "/api/v1/verify", body)
	if !strings.Contains(rec.Body.String(), `"valid":false`) {
		t.Fatalf("expected invalid proof, got %s", rec.Body)
	}
}

func TestErrorMapping(t *testing.T) {
	_, h := newTestServer(t)
	records := demoRecords()

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   xerrors.Code
	}{
		{"root not set", http.MethodGet, "/api/v1/root", nil, http.StatusConflict, batch.CodeNoRootSet},
		{"execute without root", http.MethodPost, "/api/v1/batches", map[string]any{"records": records, "proofs": make([]proofs.Proof, len(records))}, http.StatusConflict, batch.CodeNoRootSet},
		{"short root", http.MethodPut, "/api/v1/root", map[string]any{"root": "0x0102"}, http.StatusBadRequest, batch.CodeInvalidRootLength},
		{"wrong batch size", http.MethodPost, "/api/v1/proofs", map[string]any{"records": records[:4]}, http.StatusBadRequest, proofs.CodeInvalidBatchSize},
		{"bad direction", http.MethodPost, "/api/v1/verify", map[string]any{"proof": []map[string]string{{"direction": "up", "sibling": "0x" + strings.Repeat("ab", 32)}}}, http.StatusBadRequest, proofs.CodeInvalidProofStep},
		{"short sibling", http.MethodPost, "/api/v1/verify", map[string]any{"proof": []map[string]string{{"direction": "left", "sibling": "0x" + strings.Repeat("ab", 31)}}}, http.StatusBadRequest, proofs.CodeInvalidProofStep},
		{"non-hex sibling", http.MethodPost, "/api/v1/batches", map[string]any{"records": records, "proofs": [][]map[string]string{{{"direction": "right", "sibling": "zz"}}}}, http.StatusBadRequest, proofs.CodeInvalidProofStep},
		{"malformed json", http.MethodPost, "/api/v1/proofs", "not-an-object", http.StatusBadRequest, xerrors.CodeInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.status, rec.Body)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp.Code != tc.code {
				t.Fatalf("code %s, want %s", resp.Code, tc.code)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodDelete, "/api/v1/root", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if got := rec.Header().Values("Allow"); len(got) != 2 {
		t.Fatalf("unexpected Allow header %v", got)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	svc := service.New(batch.NewEngine())
	server := NewServer("127.0.0.1:0", svc, WithShutdownTimeout(250*time.Millisecond))
	if server.shutdownTimeout != 250*time.Millisecond {
		t.Fatalf("shutdown timeout %s not applied", server.shutdownTimeout)
	}
	if NewServer(":0", svc, WithShutdownTimeout(0)).shutdownTimeout != defaultShutdownTimeout {
		t.Fatalf("non-positive shutdown timeout should keep the default")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !stdErrors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop after cancel")
	}
}
