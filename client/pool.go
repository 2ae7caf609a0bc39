package client

import (
	"context"
	"sync"

	"mini-lpc/lpcerr"
	"mini-lpc/pipe"
	"mini-lpc/transport"
)

var defaultPool = NewPool()

// Pool shares ClientChannels among the clients of one process. A channel is
// keyed by its call and return pipe paths and stays open while any client
// holds it.
//
// A channel that has failed is never handed out again: the next acquire for
// its key opens a fresh one, and the failed channel closes when its last
// holder releases it.
type Pool struct {
	mu      sync.Mutex
	current map[string]*transport.ClientChannel // key → channel handed to new clients
	refs    map[*transport.ClientChannel]int
	opening map[string]*opening
}

// opening is an open in progress for one key. Other acquirers of the key wait
// on done instead of opening a second reader.
type opening struct {
	done chan struct{}
	err  error
}

func NewPool() *Pool {
	return &Pool{
		current: make(map[string]*transport.ClientChannel),
		refs:    make(map[*transport.ClientChannel]int),
		opening: make(map[string]*opening),
	}
}

// acquire returns the shared channel for the pipe pair, opening it if needed.
// The open runs outside the pool lock, so a service that never answers only
// holds up clients of its own pipe pair.
func (p *Pool) acquire(ctx context.Context, callPath, returnPath string, opts []transport.Option) (string, *transport.ClientChannel, error) {
	key := callPath + "|" + returnPath

	for {
		p.mu.Lock()
		if ch, ok := p.current[key]; ok {
			if ch.Err() == nil {
				p.refs[ch]++
				p.mu.Unlock()
				return key, ch, nil
			}
			delete(p.current, key)
		}
		op, inFlight := p.opening[key]
		if !inFlight {
			break
		}
		p.mu.Unlock()

		select {
		case <-op.done:
		case <-ctx.Done():
			return "", nil, lpcerr.Transport("open", key, ctx.Err())
		}
		if op.err != nil {
			return "", nil, op.err
		}
	}

	op := &opening{done: make(chan struct{})}
	p.opening[key] = op
	p.mu.Unlock()

	ch, err := openChannel(ctx, key, callPath, returnPath, opts)

	p.mu.Lock()
	delete(p.opening, key)
	op.err = err
	if err == nil {
		p.current[key] = ch
		p.refs[ch] = 1
	}
	p.mu.Unlock()
	close(op.done)

	if err != nil {
		return "", nil, err
	}
	return key, ch, nil
}

// openChannel opens the call pipe for writing, waiting for the service within
// ctx, and the return pipe read-write. The return pipe doubles as the requeue
// writer for returns that belong to other processes.
func openChannel(ctx context.Context, key, callPath, returnPath string, opts []transport.Option) (*transport.ClientChannel, error) {
	calls, err := pipe.Open(ctx, callPath, pipe.ModeWrite)
	if err != nil {
		return nil, err
	}
	returns, err := pipe.Open(ctx, returnPath, pipe.ModeReadWrite)
	if err != nil {
		calls.Close()
		return nil, err
	}
	opts = append([]transport.Option{transport.WithName(key), transport.WithRequeue(returns)}, opts...)
	return transport.NewClientChannel(calls, returns, opts...), nil
}

// release drops one reference to ch and closes it with the last one.
func (p *Pool) release(key string, ch *transport.ClientChannel) error {
	p.mu.Lock()
	n, ok := p.refs[ch]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	if n > 1 {
		p.refs[ch] = n - 1
		p.mu.Unlock()
		return nil
	}
	delete(p.refs, ch)
	if p.current[key] == ch {
		delete(p.current, key)
	}
	p.mu.Unlock()
	return ch.Close()
}

// Len reports the number of open channels, failed ones included.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.refs)
}
