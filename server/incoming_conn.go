// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"bufio"
	"net"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/joculatrix/mls-chat/core/wire"
	"github.com/joculatrix/mls-chat/server/internal/instrument"
)

// writeTimeout bounds a fan-out write to one connection, so a slow
// reader only affects itself and never the hub's forward progress
// toward other connections.
const writeTimeout = 5 * time.Second

// incomingConn is one registered connection.  The reader goroutine owns
// the read side; only the fan-out worker writes to the connection.
type incomingConn struct {
	l    *listener
	log  *logging.Logger
	conn net.Conn
	id   uint64

	doneCh chan interface{}
}

func newIncomingConn(l *listener, conn net.Conn, id uint64) *incomingConn {
	return &incomingConn{
		l:      l,
		log:    l.s.logBackend.GetLogger("server/conn"),
		conn:   conn,
		id:     id,
		doneCh: make(chan interface{}),
	}
}

// worker reads delimited frames until end of stream or shutdown and
// forwards each to the fan-out intake queue.  When the intake queue is
// full the reader blocks; frames are never dropped on the inbound path.
func (c *incomingConn) worker() {
	defer func() {
		c.l.s.registry.remove(c.id)
		c.conn.Close()
		close(c.doneCh)
		instrument.ConnectionClosed()
		c.log.Debugf("Connection %d closed.", c.id)
	}()

	// Unblock the read when the hub shuts down.
	go func() {
		select {
		case <-c.l.closeAllCh:
			c.conn.Close()
		case <-c.doneCh:
		}
	}()

	br := bufio.NewReader(c.conn)
	for {
		frame, err := wire.ReadFrame(br)
		if err != nil {
			// EOF is the peer leaving; anything else still ends the
			// connection.
			c.log.Debugf("Connection %d read side done: %v", c.id, err)
			return
		}

		select {
		case c.l.intakeCh <- &inboundFrame{connID: c.id, frame: frame}:
		case <-c.l.closeAllCh:
			return
		}
	}
}

// writeFrame delivers one frame to this connection, called only from the
// fan-out worker.
func (c *incomingConn) writeFrame(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wire.WriteFrame(c.conn, frame)
}
