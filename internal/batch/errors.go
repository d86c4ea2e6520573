package batch

import (
	xerrors "MerkleBatch-Chain/internal/errors"
	"MerkleBatch-Chain/internal/proofs"
)

const (
	CodeInvalidRootLength xerrors.Code = "INVALID_ROOT_LENGTH"
	CodeLengthMismatch    xerrors.Code = "LENGTH_MISMATCH"
	CodeNoRootSet         xerrors.Code = "NO_ROOT_SET"
)

var (
	// ErrInvalidRootLength 表示提交的根不是 32 字节。
	ErrInvalidRootLength = xerrors.New(CodeInvalidRootLength, "merkle root must be 32 bytes")
	// ErrLengthMismatch 表示记录与证明数量不一致。
	ErrLengthMismatch = xerrors.New(CodeLengthMismatch, "records and proofs length mismatch")
	// ErrNoRootSet 表示尚未提交任何根。
	ErrNoRootSet = xerrors.New(CodeNoRootSet, "no batch root set")
	// ErrInvalidBatchSize 与 proofs.ErrInvalidBatchSize 使用同一错误码。
	ErrInvalidBatchSize = proofs.ErrInvalidBatchSize
)

func init() {
	xerrors.Register(CodeInvalidRootLength, xerrors.Attributes{
		Message:  "merkle root must be 32 bytes",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeLengthMismatch, xerrors.Attributes{
		Message:  "records and proofs length mismatch",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNoRootSet, xerrors.Attributes{
		Message:  "no batch root set",
		Severity: xerrors.SeverityWarning,
	})
}
