// Package wallet creates externally owned accounts and stores them as
// geth-compatible encrypted keystore files (UTC--<timestamp>--<address>).
// Wallets are not consumed by the batch engine; they identify the senders
// that produce signed records.
package wallet

import (
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "MerkleBatch-Chain/internal/errors"
	"MerkleBatch-Chain/pkg/logger"
)

// Scrypt cost presets for keystore encryption.
const (
	ScryptStandard = "standard"
	ScryptLight    = "light"
)

// Wallet is an account together with its decrypted key.
type Wallet struct {
	Address      string `json:"address"`
	PrivateKey   string `json:"private_key"`
	KeystorePath string `json:"keystore_path"`
}

// Generate creates a new random secp256k1 key, encrypts it with password and
// writes it into dir.
func Generate(password, dir, scrypt string) (*Wallet, error) {
	if strings.TrimSpace(password) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "keystore password must not be empty")
	}
	if dir == "" {
		dir = "keystore"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create keystore directory")
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "generate private key")
	}

	n, p := keystore.StandardScryptN, keystore.StandardScryptP
	if strings.EqualFold(scrypt, ScryptLight) {
		n, p = keystore.LightScryptN, keystore.LightScryptP
	}
	ks := keystore.NewKeyStore(dir, n, p)
	account, err := ks.ImportECDSA(key, password)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "write keystore file")
	}

	w := &Wallet{
		Address:      account.Address.Hex(),
		PrivateKey:   hexutil.Encode(crypto.FromECDSA(key)),
		KeystorePath: account.URL.Path,
	}
	logger.Audit().Info("wallet created",
		slog.String("address", w.Address),
		slog.String("keystore_path", w.KeystorePath),
	)
	return w, nil
}

// Unlock decrypts the keystore file at path and returns the wallet it holds.
func Unlock(path, password string) (*Wallet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNotFound, err, "read keystore file")
	}
	key, err := keystore.DecryptKey(content, password)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decrypt keystore file")
	}
	w := &Wallet{
		Address:      key.Address.Hex(),
		PrivateKey:   hexutil.Encode(crypto.FromECDSA(key.PrivateKey)),
		KeystorePath: path,
	}
	logger.Audit().Info("wallet unlocked", slog.String("address", w.Address))
	return w, nil
}
