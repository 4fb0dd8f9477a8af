package floating

import (
	"context"
	"sync"
)

// pipeEnd is one side of an in-memory Port pair.
type pipeEnd struct {
	in   <-chan Message
	out  chan<- Message
	done chan struct{}
	once *sync.Once
}

// NewPipe returns two connected ports. Closing either end disconnects both.
func NewPipe() (Port, Port) {
	a := make(chan Message, outboxSize)
	b := make(chan Message, outboxSize)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: a, out: b, done: done, once: once},
		&pipeEnd{in: b, out: a, done: done, once: once}
}

func (p *pipeEnd) Send(ctx context.Context, msg Message) error {
	select {
	case <-p.done:
		return ErrDisconnected
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) (Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.done:
		// deliver anything already queued before reporting the loss
		select {
		case msg := <-p.in:
			return msg, nil
		default:
		}
		return Message{}, ErrDisconnected
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
