package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrConnectionClosed = errors.New("connection is closed")

// MemoryBackend keeps sent messages in memory. It serves local development and tests.
type MemoryBackend struct {
	mu     sync.Mutex
	outbox []*Message
	opens  int
	closes int

	// FailAt makes the n-th message (1-based, counted across connections) fail.
	FailAt int
}

func (b *MemoryBackend) Connection() Connection {
	return &memoryConnection{backend: b}
}

// Outbox returns a copy of the delivered messages.
func (b *MemoryBackend) Outbox() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Message(nil), b.outbox...)
}

// Sessions returns how many connections were opened and closed.
func (b *MemoryBackend) Sessions() (opened, closed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens, b.closes
}

type memoryConnection struct {
	backend *MemoryBackend
	open    bool
}

func (c *memoryConnection) Open(context.Context) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.open = true
	c.backend.opens++
	return nil
}

func (c *memoryConnection) SendMessages(_ context.Context, msgs []*Message) (int, error) {
	if !c.open {
		return 0, ErrConnectionClosed
	}

	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, m := range msgs {
		if b.FailAt > 0 && len(b.outbox)+1 == b.FailAt {
			return i, fmt.Errorf("memory backend: refusing message %d", b.FailAt)
		}
		b.outbox = append(b.outbox, m)
	}
	return len(msgs), nil
}

func (c *memoryConnection) Close() error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.open {
		c.open = false
		c.backend.closes++
	}
	return nil
}
