package dispatch

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "MerkleBatch-Chain/internal/errors"
)

// RedisConfig 描述 Redis 列表投递的连接参数。
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	Key      string
}

// listPusher 是 RedisPublisher 依赖的最小客户端能力。
type listPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher 以 LPUSH 方式把执行记录写入 Redis 列表，消费者使用 BRPOP 按执行顺序读取。
type RedisPublisher struct {
	client listPusher
	key    string
}

// NewRedisPublisher 创建 Redis 投递器并检查连通性。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeDispatchFailure, err, "连接 Redis 失败")
	}
	return newRedisPublisher(client, cfg.Key), nil
}

func newRedisPublisher(client listPusher, key string) *RedisPublisher {
	if key == "" {
		key = "merklebatch:executed"
	}
	return &RedisPublisher{client: client, key: key}
}

// Publish 将消息写入 Redis。
func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := p.client.LPush(ctx, p.key, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeDispatchFailure, err, "Redis 投递执行记录失败", xerrors.WithMetadata("batch_id", msg.BatchID))
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
