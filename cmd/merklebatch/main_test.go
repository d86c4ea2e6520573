package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	xerrors "MerkleBatch-Chain/internal/errors"
	"MerkleBatch-Chain/internal/proofs"
	"MerkleBatch-Chain/internal/wallet"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"merklebatch"}, args...))
	return out.String(), err
}

func TestDemoExecutesSampleBatch(t *testing.T) {
	out, err := runApp(t, "demo")
	if err != nil {
		t.Fatalf("demo: %v", err)
	}
	var report demoReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if !report.Executed || report.FailedIndex != -1 || len(report.Executions) != 10 {
		t.Fatalf("unexpected report %+v", report)
	}
	first := report.Executions[0]
	if first.Record != "0xSENDER1|0xRECEIVER1|100|tx-1" || first.Seq != 1 || first.Index != 0 {
		t.Fatalf("unexpected first execution %+v", first)
	}
	if first.Transfer == nil || first.Transfer.From != "0xSENDER1" || first.Transfer.Value.Uint64() != 100 {
		t.Fatalf("first execution was not decoded into a transfer: %+v", first.Transfer)
	}
}

func TestDemoRejectsNonPositiveSize(t *testing.T) {
	for _, size := range []string{"0", "-1"} {
		out, err := runApp(t, "demo", "--size", size)
		if xerrors.CodeOf(err) != proofs.CodeInvalidBatchSize {
			t.Fatalf("size %s: expected INVALID_BATCH_SIZE, got %v", size, err)
		}
		if out != "" {
			t.Fatalf("size %s: no report expected, got %s", size, out)
		}
	}
}

func TestDemoWithTamperedProofIsRejected(t *testing.T) {
	out, err := runApp(t, "demo", "--tamper", "4")
	if err != nil {
		t.Fatalf("demo: %v", err)
	}
	var report demoReport
	_ = json.Unmarshal([]byte(out), &report)
	if report.Executed || report.FailedIndex != 4 || len(report.Executions) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestProveThenVerify(t *testing.T) {
	file := filepath.Join(t.TempDir(), "records.txt")
	if err := os.WriteFile(file, []byte("a\nb\nc\n"), 0o600); err != nil {
		t.Fatalf("write records: %v", err)
	}
	out, err := runApp(t, "prove", "--file", file)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	var report proveReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Proofs) != 3 {
		t.Fatalf("expected 3 proofs, got %d", len(report.Proofs))
	}

	out, err = runApp(t, "verify", "--record", "c", "--proof", report.Proofs[2], "--root", report.Root)
	if err != nil || !strings.Contains(out, `"valid": true`) {
		t.Fatalf("expected valid proof, err=%v out=%s", err, out)
	}

	out, err = runApp(t, "verify", "--record", "b", "--proof", report.Proofs[2], "--root", report.Root)
	if !errors.Is(err, errInvalidProof) || !strings.Contains(out, `"valid": false`) {
		t.Fatalf("expected invalid proof, err=%v out=%s", err, out)
	}
}

func TestWalletNewThenUnlock(t *testing.T) {
	dir := t.TempDir()
	out, err := runApp(t, "wallet", "new", "--password", "secret", "--dir", dir, "--light")
	if err != nil {
		t.Fatalf("wallet new: %v", err)
	}
	var created wallet.Wallet
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created.Address, "0x") || filepath.Dir(created.KeystorePath) != dir {
		t.Fatalf("unexpected wallet %+v", created)
	}

	out, err = runApp(t, "wallet", "unlock", "--password", "secret", created.KeystorePath)
	if err != nil {
		t.Fatalf("wallet unlock: %v", err)
	}
	var unlocked wallet.Wallet
	if err := json.Unmarshal([]byte(out), &unlocked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if unlocked != created {
		t.Fatalf("unlocked %+v, want %+v", unlocked, created)
	}

	if _, err := runApp(t, "wallet", "unlock", "--password", "wrong", created.KeystorePath); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected wrong password to fail, got %v", err)
	}
	if _, err := runApp(t, "wallet", "unlock", "--password", "secret"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected missing keystore argument to fail, got %v", err)
	}
}
