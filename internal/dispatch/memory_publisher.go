package dispatch

import (
	"context"
	"sync"

	xerrors "MerkleBatch-Chain/internal/errors"
)

// MemoryPublisher 使用 channel 缓存消息，主要用于测试与本地开发。
type MemoryPublisher struct {
	ch        chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryPublisher 创建一个带缓冲的内存投递器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Message, size), done: make(chan struct{})}
}

func errPublisherClosed() error {
	return xerrors.New(xerrors.CodeDispatchFailure, "投递器已关闭", xerrors.WithRetryable(false))
}

// Publish 将消息写入缓冲区。缓冲区满时阻塞，直到 ctx 结束或投递器被关闭。
func (p *MemoryPublisher) Publish(ctx context.Context, msg Message) error {
	select {
	case <-p.done:
		return errPublisherClosed()
	default:
	}
	select {
	case <-p.done:
		return errPublisherClosed()
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeDispatchFailure, ctx.Err(), "投递执行记录超时")
	case p.ch <- msg:
		return nil
	}
}

// Messages 返回只读的消息通道。通道不会被关闭，消费者应同时监听 Done。
func (p *MemoryPublisher) Messages() <-chan Message {
	return p.ch
}

// Done 在 Close 之后关闭。
func (p *MemoryPublisher) Done() <-chan struct{} {
	return p.done
}

// Drain 非阻塞地取出当前缓冲的全部消息。
func (p *MemoryPublisher) Drain() []Message {
	var out []Message
	for {
		select {
		case msg := <-p.ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// Close 关闭内存投递器，并唤醒所有阻塞中的 Publish。
func (p *MemoryPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
