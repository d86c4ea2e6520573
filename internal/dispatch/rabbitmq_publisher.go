package dispatch

import (
	"context"
	"strconv"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "MerkleBatch-Chain/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 投递的连接参数。
type RabbitMQConfig struct {
	URL      string
	Exchange string
	Queue    string
	Durable  bool
}

// amqpChannel 是 RabbitMQPublisher 依赖的最小 channel 能力。
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher 把执行记录投递到 RabbitMQ 队列。
type RabbitMQPublisher struct {
	conn       *amqp.Connection
	ch         amqpChannel
	exchange   string
	routingKey string
	durable    bool
}

// NewRabbitMQPublisher 建立连接并声明目标队列。
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "merklebatch.executed"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDispatchFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeDispatchFailure, err, "创建 RabbitMQ channel 失败")
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeDispatchFailure, err, "声明 RabbitMQ 队列失败")
	}
	if cfg.Exchange != "" {
		if err := ch.QueueBind(queue, queue, cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, xerrors.Wrap(xerrors.CodeDispatchFailure, err, "绑定 RabbitMQ 队列失败")
		}
	}
	p := newRabbitMQPublisher(ch, cfg.Exchange, queue, cfg.Durable)
	p.conn = conn
	return p, nil
}

func newRabbitMQPublisher(ch amqpChannel, exchange, routingKey string, durable bool) *RabbitMQPublisher {
	return &RabbitMQPublisher{ch: ch, exchange: exchange, routingKey: routingKey, durable: durable}
}

// Publish 将消息投递到 RabbitMQ。
func (p *RabbitMQPublisher) Publish(ctx context.Context, msg Message) error {
	if p == nil || p.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 投递器未初始化")
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	mode := amqp.Transient
	if p.durable {
		mode = amqp.Persistent
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		MessageId:    msg.BatchID + ":" + strconv.Itoa(msg.Index),
		Timestamp:    msg.ExecutedAt,
		Body:         payload,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeDispatchFailure, err, "RabbitMQ 投递执行记录失败", xerrors.WithMetadata("batch_id", msg.BatchID))
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
