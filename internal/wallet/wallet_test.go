package wallet

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/go-cmp/cmp"

	xerrors "MerkleBatch-Chain/internal/errors"
)

func TestGenerateWritesGethKeystore(t *testing.T) {
	dir := t.TempDir()
	w, err := Generate("correct horse", dir, ScryptLight)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if filepath.Dir(w.KeystorePath) != dir {
		t.Fatalf("keystore written outside %s: %s", dir, w.KeystorePath)
	}
	name := filepath.Base(w.KeystorePath)
	if !strings.HasPrefix(name, "UTC--") || !strings.HasSuffix(name, strings.ToLower(w.Address[2:])) {
		t.Fatalf("unexpected keystore file name %s", name)
	}

	raw, err := hexutil.Decode(w.PrivateKey)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		t.Fatalf("parse private key: %v", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey).Hex() != w.Address {
		t.Fatalf("private key does not match address")
	}

	unlocked, err := Unlock(w.KeystorePath, "correct horse")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if diff := cmp.Diff(w, unlocked); diff != "" {
		t.Fatalf("unlocked wallet mismatch (-generated +unlocked):\n%s", diff)
	}
	if _, err := Unlock(w.KeystorePath, "wrong"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected wrong password to fail with INVALID_ARGUMENT, got %v", err)
	}
	if _, err := Unlock(filepath.Join(dir, "missing.json"), "correct horse"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected missing keystore to fail with NOT_FOUND, got %v", err)
	}
}

func TestGenerateRequiresPassword(t *testing.T) {
	if _, err := Generate("  ", t.TempDir(), ScryptLight); err == nil {
		t.Fatalf("expected error for empty password")
	}
}
