// Package inject implements the HCI injection side-channel: a debug
// facility that lets an external tool write raw HCI packets into the
// stack over a Unix domain socket, bypassing the HAL. Opening it is
// allowed to fail silently — it exists for diagnostics, not the
// transport's correctness.
package inject

import (
	"bufio"
	"encoding/hex"
	"net"
	"sync"

	"github.com/hcigo/hci/internal/logging"
	"github.com/hcigo/hci/internal/packet"
)

const DefaultSocketPath = "/var/run/hci-hostd.inject.sock"

// Handler is invoked once per injected packet, on whatever goroutine
// accepted the connection — callers must hand off to the event-loop
// thread themselves (e.g. by posting a task) rather than touching
// event-loop-owned state directly.
type Handler func(t packet.Type, data []byte)

// Channel listens on a Unix domain socket and feeds whole, newline-
// framed hex-encoded packets to a Handler. Connections are served one
// at a time in accept order; a new connection is not read until the
// current one closes.
type Channel struct {
	path    string
	logger  *logging.Logger
	handler Handler

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   bool
}

func New(path string, logger *logging.Logger, handler Handler) *Channel {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Channel{path: path, logger: logger, handler: handler}
}

// Open starts listening. Per the debug-facility policy, a failure here
// is reported but is never fatal to the caller's startup sequence.
func (c *Channel) Open() error {
	ln, err := net.Listen("unix", c.path)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("inject channel unavailable", "path", c.path, "err", err)
		}
		return err
	}
	c.listener = ln
	c.wg.Add(1)
	go c.acceptLoop(ln)
	return nil
}

func (c *Channel) acceptLoop(ln net.Listener) {
	defer c.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		c.serve(conn)
	}
}

func (c *Channel) serve(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		decoded, err := hex.DecodeString(string(scanner.Bytes()))
		if err != nil || len(decoded) < 1 {
			if c.logger != nil && err != nil {
				c.logger.Warn("inject channel: malformed line", "err", err)
			}
			continue
		}
		t := packet.Type(decoded[0])
		payload := make([]byte, len(decoded)-1)
		copy(payload, decoded[1:])
		if c.handler != nil {
			c.handler(t, payload)
		}
	}
}

// Close stops accepting new connections and removes the socket file.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ln := c.listener
	c.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Close()
	c.wg.Wait()
	return err
}
