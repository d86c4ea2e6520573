package proofs

import xerrors "MerkleBatch-Chain/internal/errors"

// StepSize 是一个证明步骤的线格式长度：1 字节方向 + 32 字节兄弟摘要。
const StepSize = 1 + DigestSize

// MarshalBinary 编码为 33 字节。
func (s ProofStep) MarshalBinary() ([]byte, error) {
	if !s.Direction.Valid() {
		return nil, xerrors.Newf(CodeInvalidProofStep, "未知的方向字节 0x%02x", byte(s.Direction))
	}
	out := make([]byte, StepSize)
	out[0] = byte(s.Direction)
	copy(out[1:], s.Sibling[:])
	return out, nil
}

// UnmarshalBinary 解析 33 字节的证明步骤。
func (s *ProofStep) UnmarshalBinary(data []byte) error {
	if len(data) != StepSize {
		return xerrors.Newf(CodeInvalidProofStep, "证明步骤必须为 %d 字节，实际 %d 字节", StepSize, len(data))
	}
	dir := Direction(data[0])
	if !dir.Valid() {
		return xerrors.Newf(CodeInvalidProofStep, "未知的方向字节 0x%02x", data[0])
	}
	s.Direction = dir
	copy(s.Sibling[:], data[1:])
	return nil
}

// Encode 将证明编码为按顺序排列的 33 字节步骤。
func (p Proof) Encode() ([][]byte, error) {
	out := make([][]byte, len(p))
	for i, step := range p {
		encoded, err := step.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out[i] = encoded
	}
	return out, nil
}

// Bytes 返回所有步骤首尾相接的编码。
func (p Proof) Bytes() ([]byte, error) {
	out := make([]byte, 0, len(p)*StepSize)
	for _, step := range p {
		encoded, err := step.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, encoded...)
	}
	return out, nil
}

// DecodeProof 解析逐步编码的证明。
func DecodeProof(steps [][]byte) (Proof, error) {
	proof := make(Proof, len(steps))
	for i, raw := range steps {
		if err := proof[i].UnmarshalBinary(raw); err != nil {
			return nil, err
		}
	}
	return proof, nil
}

// DecodeProofBytes 解析首尾相接的证明编码，长度必须是 33 的整数倍。
func DecodeProofBytes(data []byte) (Proof, error) {
	if len(data)%StepSize != 0 {
		return nil, xerrors.Newf(CodeInvalidProofStep, "证明长度 %d 不是 %d 的整数倍", len(data), StepSize)
	}
	steps := make([][]byte, 0, len(data)/StepSize)
	for off := 0; off < len(data); off += StepSize {
		steps = append(steps, data[off:off+StepSize])
	}
	return DecodeProof(steps)
}
