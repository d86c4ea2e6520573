package proofs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "MerkleBatch-Chain/internal/errors"
)

// Direction 表示兄弟节点相对于当前节点的位置。
type Direction byte

const (
	// SiblingLeft 表示兄弟节点在左侧，父节点为 PairHash(sibling, current)。
	SiblingLeft Direction = 0x00
	// SiblingRight 表示兄弟节点在右侧，父节点为 PairHash(current, sibling)。
	SiblingRight Direction = 0x01
)

// Valid 判断方向字节是否为支持的取值。
func (d Direction) Valid() bool {
	return d == SiblingLeft || d == SiblingRight
}

func (d Direction) String() string {
	switch d {
	case SiblingLeft:
		return "left"
	case SiblingRight:
		return "right"
	default:
		return fmt.Sprintf("direction(0x%02x)", byte(d))
	}
}

// MarshalText 以 left/right 形式输出方向。
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, xerrors.Newf(CodeInvalidProofStep, "未知的方向字节 0x%02x", byte(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText 解析 left/right。
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection 将 "left"/"right" 解析为方向。
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return SiblingLeft, nil
	case "right":
		return SiblingRight, nil
	default:
		return 0, xerrors.Newf(CodeInvalidProofStep, "无效的方向 %q，应为 left 或 right", s)
	}
}

// ProofStep 是证明中的一步：方向与兄弟节点摘要。
type ProofStep struct {
	Direction Direction `json:"direction"`
	Sibling   Digest    `json:"sibling"`
}

// UnmarshalJSON 解析 {"direction":"left|right","sibling":"0x…"}，兄弟摘要必须是 32 字节。
func (s *ProofStep) UnmarshalJSON(data []byte) error {
	var raw struct {
		Direction Direction     `json:"direction"`
		Sibling   hexutil.Bytes `json:"sibling"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		if _, ok := xerrors.From(err); ok {
			return err
		}
		return xerrors.Wrap(CodeInvalidProofStep, err, "证明步骤格式错误")
	}
	if len(raw.Sibling) != DigestSize {
		return xerrors.Newf(CodeInvalidProofStep, "兄弟摘要必须为 %d 字节，实际 %d 字节", DigestSize, len(raw.Sibling))
	}
	s.Direction = raw.Direction
	copy(s.Sibling[:], raw.Sibling)
	return nil
}

// Proof 按叶子到根的顺序排列，每个非根层级一步。
type Proof []ProofStep

func (p Proof) String() string {
	parts := make([]string, len(p))
	for i, step := range p {
		parts[i] = fmt.Sprintf("(%s, %s)", step.Direction, step.Sibling.Hex())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Proof 为下标 i 的叶子生成包含证明。
func (t *Tree) Proof(i int) (Proof, error) {
	if i < 0 || i >= t.LeafCount() {
		return nil, xerrors.Newf(CodeLeafIndexOutOfRange, "叶子下标 %d 超出范围 [0, %d)", i, t.LeafCount())
	}
	proof := make(Proof, 0, t.Height())
	idx := i
	for _, nodes := range t.levels[:len(t.levels)-1] {
		if idx%2 == 1 {
			proof = append(proof, ProofStep{Direction: SiblingLeft, Sibling: nodes[idx-1]})
		} else {
			proof = append(proof, ProofStep{Direction: SiblingRight, Sibling: nodeAt(nodes, idx+1)})
		}
		idx /= 2
	}
	return proof, nil
}

// Proofs 为每个叶子按下标顺序生成证明。
func (t *Tree) Proofs() []Proof {
	out := make([]Proof, t.LeafCount())
	for i := range out {
		// 下标始终在范围内。
		out[i], _ = t.Proof(i)
	}
	return out
}
