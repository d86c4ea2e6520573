// Package dispatch delivers executed records to downstream consumers.
//
// The batch engine decides atomically; dispatch runs afterwards and only ever
// sees records from executed batches, in execution order.
package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"MerkleBatch-Chain/internal/config"
	xerrors "MerkleBatch-Chain/internal/errors"
)

// Drivers accepted by New.
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

// Message is one executed record.
type Message struct {
	Seq        uint64        `json:"seq"`
	BatchID    string        `json:"batch_id"`
	Index      int           `json:"index"`
	Root       common.Hash   `json:"root"`
	Record     hexutil.Bytes `json:"record"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// Encode 将消息序列化为 JSON。
func (m Message) Encode() ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDispatchFailure, err, "序列化执行记录失败")
	}
	return payload, nil
}

// DecodeMessage 解析 Encode 产生的 JSON。
func DecodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析执行记录失败")
	}
	return m, nil
}

// Publisher 负责向下游投递已执行的记录。
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// NopPublisher 丢弃所有消息。
type NopPublisher struct{}

// Publish 实现 Publisher。
func (NopPublisher) Publish(context.Context, Message) error { return nil }

// Close 实现 Publisher。
func (NopPublisher) Close() error { return nil }

// New 根据配置创建 Publisher。
func New(ctx context.Context, cfg config.DispatchConfig) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverNone:
		return NopPublisher{}, nil
	case DriverMemory:
		return NewMemoryPublisher(cfg.Buffer), nil
	case DriverRedis:
		p, err := NewRedisPublisher(ctx, RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case DriverRabbitMQ:
		p, err := NewRabbitMQPublisher(RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Queue:    cfg.RabbitMQ.Queue,
			Durable:  true,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "不支持的投递驱动: %s", cfg.Driver)
	}
}
