package transport

import (
	"context"
	"io"
	"sync"

	"github.com/marmos91/dittostore/pkg/protocol"
)

// Pipe returns two connected in-memory channels. Messages are copied on
// Send so neither side can observe the other's buffers. Closing either end
// closes both; already queued messages are still delivered.
func Pipe() (Channel, Channel) {
	ab := make(chan *protocol.Message, pipeBuffer)
	ba := make(chan *protocol.Message, pipeBuffer)
	shared := &pipeState{done: make(chan struct{})}

	return &pipeEnd{in: ba, out: ab, state: shared},
		&pipeEnd{in: ab, out: ba, state: shared}
}

const pipeBuffer = 64

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	in    <-chan *protocol.Message
	out   chan<- *protocol.Message
	state *pipeState
}

func (p *pipeEnd) Send(ctx context.Context, m *protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}

	msg := *m
	if m.Data != nil {
		msg.Data = append([]byte(nil), m.Data...)
	}

	select {
	case p.out <- &msg:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) (*protocol.Message, error) {
	// Drain queued messages before reporting the close.
	select {
	case m := <-p.in:
		return m, nil
	default:
	}

	select {
	case m := <-p.in:
		return m, nil
	case <-p.state.done:
		select {
		case m := <-p.in:
			return m, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}
