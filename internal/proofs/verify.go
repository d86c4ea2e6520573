package proofs

import xerrors "MerkleBatch-Chain/internal/errors"

// RootFromProof 从叶子摘要出发按证明逐步重建候选根。
func RootFromProof(leaf Digest, proof Proof) (Digest, error) {
	current := leaf
	for i, step := range proof {
		switch step.Direction {
		case SiblingLeft:
			current = PairHash(step.Sibling, current)
		case SiblingRight:
			current = PairHash(current, step.Sibling)
		default:
			return Digest{}, xerrors.Newf(CodeInvalidProofStep, "第 %d 步的方向字节 0x%02x 非法", i, byte(step.Direction))
		}
	}
	return current, nil
}

// VerifyLeaf 判断叶子摘要能否通过证明得到给定的根。
func VerifyLeaf(leaf Digest, proof Proof, root Digest) (bool, error) {
	candidate, err := RootFromProof(leaf, proof)
	if err != nil {
		return false, err
	}
	return candidate == root, nil
}

// Verify 对记录哈希后校验其包含证明。
func Verify(record Record, proof Proof, root Digest) (bool, error) {
	return VerifyLeaf(Hash(record), proof, root)
}
