package proofs

import xerrors "MerkleBatch-Chain/internal/errors"

// Tree 保存一次批次构建出的全部层级，构建后不可变。
type Tree struct {
	levels [][]Digest
}

// Build 对记录逐条哈希后构建 Merkle 树，记录顺序即叶子下标。
func Build(records []Record) (*Tree, error) {
	if len(records) == 0 {
		return nil, xerrors.New(CodeInvalidBatchSize, "批次至少需要一条记录")
	}
	return buildLevels(LeafHashes(records)), nil
}

// BuildFromLeaves 使用已经计算好的叶子摘要构建 Merkle 树。
func BuildFromLeaves(leaves []Digest) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, xerrors.New(CodeInvalidBatchSize, "批次至少需要一个叶子")
	}
	level := make([]Digest, len(leaves))
	copy(level, leaves)
	return buildLevels(level), nil
}

func buildLevels(leaves []Digest) *Tree {
	levels := [][]Digest{leaves}
	level := leaves
	for len(level) > 1 {
		next := make([]Digest, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, PairHash(level[i], nodeAt(level, i+1)))
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}
}

// nodeAt 返回层级中下标为 idx 的节点；奇数长度层级的末尾位置由最后一个节点的副本补齐，
// 副本不会写回层级。
func nodeAt(level []Digest, idx int) Digest {
	if idx == len(level) && len(level)%2 == 1 {
		return level[len(level)-1]
	}
	return level[idx]
}

// Root 返回树根。
func (t *Tree) Root() Digest {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount 返回叶子数量 N。
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Height 返回配对轮数，也就是每个证明包含的步骤数。
func (t *Tree) Height() int {
	return len(t.levels) - 1
}

// Leaves 返回叶子摘要的副本。
func (t *Tree) Leaves() []Digest {
	return t.Level(0)
}

// Level 返回第 i 层的副本，越界时返回 nil。
func (t *Tree) Level(i int) []Digest {
	if i < 0 || i >= len(t.levels) {
		return nil
	}
	out := make([]Digest, len(t.levels[i]))
	copy(out, t.levels[i])
	return out
}

// Levels 返回全部层级的副本，levels[0] 为叶子，最后一层只有根。
func (t *Tree) Levels() [][]Digest {
	out := make([][]Digest, len(t.levels))
	for i := range t.levels {
		out[i] = t.Level(i)
	}
	return out
}
