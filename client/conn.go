// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"bufio"
	"net"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/joculatrix/mls-chat/core/log"
	"github.com/joculatrix/mls-chat/core/wire"
	"github.com/joculatrix/mls-chat/core/worker"
)

const (
	connectTimeout = 30 * time.Second

	// readPollInterval bounds how long the pump blocks waiting for the
	// first byte of a frame before it loops back to flush queued
	// outgoing frames and check for halt.
	readPollInterval = 50 * time.Millisecond

	// frameReadTimeout bounds how long the pump waits for the remainder
	// of a frame once its first byte has arrived.
	frameReadTimeout = 30 * time.Second

	// writeTimeout bounds a single frame write so a stalled hub cannot
	// block the pump indefinitely.
	writeTimeout = 5 * time.Second
)

// Conn is the client's single logical connection to the hub.  Outgoing
// frames are queued and written by a background pump; incoming frames
// accumulate until the caller drains them.  Neither direction ever
// blocks the caller on the network.
type Conn struct {
	worker.Worker

	log  *logging.Logger
	conn net.Conn
	br   *bufio.Reader

	outLock  sync.Mutex
	outgoing [][]byte

	inLock   sync.Mutex
	incoming [][]byte
}

// Dial connects to the hub at address and returns the Conn with its pump
// running.  A connect failure is fatal to the Conn.
func Dial(address string, logBackend *log.Backend) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", address, connectTimeout)
	if err != nil {
		return nil, ErrConnectionFailed
	}

	c := &Conn{
		log:  logBackend.GetLogger("client/conn"),
		conn: conn,
		br:   bufio.NewReader(conn),
	}
	c.Go(c.pump)
	return c, nil
}

// Send enqueues a frame for the pump.  It never blocks on the network.
func (c *Conn) Send(frame []byte) {
	c.outLock.Lock()
	defer c.outLock.Unlock()
	c.outgoing = append(c.outgoing, frame)
}

// Drain returns every frame that has arrived since the last call,
// possibly none.  It never blocks.
func (c *Conn) Drain() [][]byte {
	c.inLock.Lock()
	defer c.inLock.Unlock()
	frames := c.incoming
	c.incoming = nil
	return frames
}

// Halt closes the connection and waits for the pump to return.
func (c *Conn) Halt() {
	c.conn.Close()
	c.Worker.Halt()
}

// pump repeatedly flushes the outgoing queue and attempts one bounded
// read of the next frame, until end of stream or halt.
func (c *Conn) pump() {
	for {
		select {
		case <-c.HaltCh():
			return
		default:
		}

		c.flushOutgoing()

		frame, ok := c.readOne()
		if !ok {
			return
		}
		if frame != nil {
			c.inLock.Lock()
			c.incoming = append(c.incoming, frame)
			c.inLock.Unlock()
		}
	}
}

// flushOutgoing writes every currently queued frame.  Write failures are
// logged and do not stop the pump; delivery is best effort.
func (c *Conn) flushOutgoing() {
	c.outLock.Lock()
	frames := c.outgoing
	c.outgoing = nil
	c.outLock.Unlock()

	for _, frame := range frames {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := wire.WriteFrame(c.conn, frame); err != nil {
			c.log.Warningf("Failed to write frame: %v", err)
		}
	}
}

// readOne attempts to read the next frame.  The wait for a frame to
// begin is bounded by readPollInterval so the pump keeps servicing the
// outgoing queue.  Returns (nil, true) when no frame arrived in time and
// (nil, false) when the pump should stop.
func (c *Conn) readOne() ([]byte, bool) {
	_ = c.conn.SetReadDeadline(time.Now().Add(readPollInterval))
	_, err := c.br.ReadByte()
	if err != nil {
		if e, ok := err.(net.Error); ok && e.Timeout() {
			return nil, true
		}
		c.log.Debugf("Read side closed: %v", err)
		return nil, false
	}
	_ = c.br.UnreadByte()

	_ = c.conn.SetReadDeadline(time.Now().Add(frameReadTimeout))
	frame, err := wire.ReadFrame(c.br)
	if err != nil {
		c.log.Debugf("Failed to read frame: %v", err)
		return nil, false
	}
	return frame, true
}
