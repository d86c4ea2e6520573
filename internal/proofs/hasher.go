package proofs

import (
	"github.com/ethereum/go-ethereum/common"
	sha256 "github.com/minio/sha256-simd"
)

// DigestSize 是叶子、内部节点与根哈希的固定长度。
const DigestSize = common.HashLength

// Digest 是 32 字节的哈希值，按字节比较。
type Digest = common.Hash

// Record 表示批次中的一条已签名记录，核心逻辑只对其做哈希。
type Record []byte

// Hash 计算任意字节序列的摘要。
func Hash(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// PairHash 计算父节点摘要：Hash(left ‖ right)，左侧在前，无分隔符。
func PairHash(left, right Digest) Digest {
	var buf [2 * DigestSize]byte
	copy(buf[:DigestSize], left[:])
	copy(buf[DigestSize:], right[:])
	return Hash(buf[:])
}

// LeafHashes 按输入顺序计算每条记录的叶子摘要。
func LeafHashes(records []Record) []Digest {
	leaves := make([]Digest, len(records))
	for i, record := range records {
		leaves[i] = Hash(record)
	}
	return leaves
}
