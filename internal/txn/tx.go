// Package txn builds the signed records that make up a batch. Signing is a
// stand-in: a transaction is serialised as UTF-8 "from|to|value|data" and the
// resulting bytes are treated as the signed record.
package txn

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	xerrors "MerkleBatch-Chain/internal/errors"
	"MerkleBatch-Chain/internal/proofs"
)

const fieldSeparator = "|"

// Tx is an unsigned transfer.
type Tx struct {
	From  string       `json:"from"`
	To    string       `json:"to"`
	Value *uint256.Int `json:"value"`
	Data  string       `json:"data"`
}

// Sign serialises the transaction into its signed record form.
func Sign(tx Tx) proofs.Record {
	value := "0"
	if tx.Value != nil {
		value = tx.Value.Dec()
	}
	return proofs.Record(strings.Join([]string{tx.From, tx.To, value, tx.Data}, fieldSeparator))
}

// SignBatch signs every transaction, preserving order.
func SignBatch(txs []Tx) []proofs.Record {
	out := make([]proofs.Record, len(txs))
	for i, tx := range txs {
		out[i] = Sign(tx)
	}
	return out
}

// Parse reverses Sign. It is only used for display; the batch engine never
// inspects record contents.
func Parse(record proofs.Record) (Tx, error) {
	parts := strings.Split(string(record), fieldSeparator)
	if len(parts) != 4 {
		return Tx{}, xerrors.Newf(xerrors.CodeInvalidArgument, "signed record has %d fields, want 4", len(parts))
	}
	value, err := uint256.FromDecimal(parts[2])
	if err != nil {
		return Tx{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid transfer value")
	}
	return Tx{From: parts[0], To: parts[1], Value: value, Data: parts[3]}, nil
}

// DemoBatch returns n sample transfers: 0xSENDERi -> 0xRECEIVERi carrying
// 100*i and data "tx-i", for i in 1..n. It returns nil when n < 1.
func DemoBatch(n int) []Tx {
	if n < 1 {
		return nil
	}
	txs := make([]Tx, n)
	for i := range txs {
		k := uint64(i + 1)
		txs[i] = Tx{
			From:  fmt.Sprintf("0xSENDER%d", k),
			To:    fmt.Sprintf("0xRECEIVER%d", k),
			Value: uint256.NewInt(100 * k),
			Data:  fmt.Sprintf("tx-%d", k),
		}
	}
	return txs
}
