// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"net"
	"sync"
	"sync/atomic"

	"gopkg.in/op/go-logging.v1"

	"github.com/joculatrix/mls-chat/core/worker"
	"github.com/joculatrix/mls-chat/server/internal/instrument"
)

// listener owns the accept loop.  Each accepted connection is assigned a
// monotonically increasing id and registered before its reader starts.
type listener struct {
	worker.Worker

	s   *Server
	log *logging.Logger

	l        net.Listener
	intakeCh chan<- *inboundFrame

	nextID uint64

	closeAllCh chan interface{}
	closeAllWg sync.WaitGroup
}

func newListener(s *Server, intakeCh chan<- *inboundFrame) (*listener, error) {
	var err error

	l := &listener{
		s:          s,
		log:        s.logBackend.GetLogger("server/listener"),
		intakeCh:   intakeCh,
		closeAllCh: make(chan interface{}),
	}
	l.l, err = net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return nil, err
	}

	l.Go(l.worker)
	return l, nil
}

// haltAccept closes the listener and waits for the accept loop to
// return.  Existing connections and their readers stay up so the fan-out
// drain still has somewhere to deliver to.
func (l *listener) haltAccept() {
	l.l.Close()
	l.Worker.Halt()
}

// closeAll signals every reader to stop and waits for them to finish.
func (l *listener) closeAll() {
	close(l.closeAllCh)
	l.closeAllWg.Wait()
}

func (l *listener) worker() {
	addr := l.l.Addr()
	l.log.Noticef("Listening on: %v", addr)
	defer func() {
		l.log.Noticef("Stopping listening on: %v", addr)
		l.l.Close()
	}()
	for {
		select {
		case <-l.HaltCh():
			return
		default:
		}
		conn, err := l.l.Accept()
		if err != nil {
			if e, ok := err.(net.Error); ok && e.Timeout() {
				continue
			}
			l.log.Errorf("Critical accept failure: %v", err)
			// An accept failure shuts the hub down; Halt on a separate
			// goroutine since it waits for this worker to return.
			go l.s.Halt()
			return
		}

		tcpConn, ok := conn.(*net.TCPConn)
		if ok {
			_ = tcpConn.SetKeepAlive(true)
		}

		l.onNewConn(conn)
	}
}

func (l *listener) onNewConn(conn net.Conn) {
	c := newIncomingConn(l, conn, atomic.AddUint64(&l.nextID, 1))

	// Registration precedes the reader so the connection never misses a
	// fan-out between its first read and its registration.
	if !l.s.registry.add(c, l.s.cfg.Server.MaxConnections) {
		l.log.Warningf("Dropping connection %v: hub is at capacity.", conn.RemoteAddr())
		conn.Close()
		return
	}
	l.log.Debugf("Accepted new connection: %v (id %d)", conn.RemoteAddr(), c.id)
	instrument.ConnectionAccepted()

	l.closeAllWg.Add(1)
	go func() {
		defer l.closeAllWg.Done()
		c.worker()
	}()
}
