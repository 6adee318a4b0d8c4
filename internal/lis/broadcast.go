package lis

import (
	"net"
	"sync"

	"go.uber.org/zap"
)

// client pairs a socket with the write mutex that serializes session ACKs
// against broadcast pushes.
type client struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *client) write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(p)
	return err
}

// Broadcaster is the process-wide set of live LIS sockets. Result
// transmissions go to every member; members whose writes fail are dropped.
type Broadcaster struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewBroadcaster builds an empty broadcast set.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

func (b *Broadcaster) add(conn net.Conn) *client {
	c := &client{conn: conn}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	return c
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// Len reports the current connection count.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast writes data to every live client and returns how many writes
// succeeded. Failed clients are closed and removed.
func (b *Broadcaster) Broadcast(data []byte) int {
	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if err := c.write(data); err != nil {
			b.logger.Warn("lis broadcast write failed",
				zap.String("remote_addr", c.conn.RemoteAddr().String()),
				zap.Error(err),
			)
			c.conn.Close()
			b.remove(c)
			continue
		}
		sent++
	}
	return sent
}
