package proofs

import xerrors "MerkleBatch-Chain/internal/errors"

const (
	CodeInvalidBatchSize    xerrors.Code = "INVALID_BATCH_SIZE"
	CodeInvalidProofStep    xerrors.Code = "INVALID_PROOF_STEP"
	CodeLeafIndexOutOfRange xerrors.Code = "LEAF_INDEX_OUT_OF_RANGE"
)

var (
	// ErrInvalidBatchSize 表示记录或叶子数量不符合约定。
	ErrInvalidBatchSize = xerrors.New(CodeInvalidBatchSize, "invalid batch size")
	// ErrInvalidProofStep 表示证明步骤长度或方向字节非法。
	ErrInvalidProofStep = xerrors.New(CodeInvalidProofStep, "invalid proof step")
	// ErrLeafIndexOutOfRange 表示请求的叶子下标不在 [0, N) 内。
	ErrLeafIndexOutOfRange = xerrors.New(CodeLeafIndexOutOfRange, "leaf index out of range")
)

func init() {
	xerrors.Register(CodeInvalidBatchSize, xerrors.Attributes{
		Message:  "invalid batch size",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidProofStep, xerrors.Attributes{
		Message:  "invalid proof step",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeLeafIndexOutOfRange, xerrors.Attributes{
		Message:  "leaf index out of range",
		Severity: xerrors.SeverityInfo,
	})
}
