// SPDX-License-Identifier: AGPL-3.0-only

// Package server implements the transport hub: it accepts connections,
// assigns each a unique id, and fans every frame received on any
// connection out to all other registered connections.  The hub moves
// bytes only; it has no protocol awareness.
package server

import (
	"net"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/joculatrix/mls-chat/core/log"
	"github.com/joculatrix/mls-chat/server/config"
	"github.com/joculatrix/mls-chat/server/internal/instrument"
)

// drainTimeout bounds the shutdown join of the fan-out worker.  A worker
// stuck writing to stalled peers is abandoned rather than wedging the
// shutdown.
const drainTimeout = 15 * time.Second

// Server is the transport hub.
type Server struct {
	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	registry *registry
	fanout   *fanout
	listener *listener

	haltedCh chan interface{}
	haltOnce sync.Once
}

// New instantiates a hub from the validated configuration and starts
// listening.  A bind failure is fatal.
func New(cfg *config.Config) (*Server, error) {
	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		logBackend: logBackend,
		log:        logBackend.GetLogger("server"),
		registry:   newRegistry(),
		haltedCh:   make(chan interface{}),
	}

	// The intake queue bounds how far the readers can outpace the
	// fan-out worker; when it fills, readers block rather than drop.
	intakeCh := make(chan *inboundFrame, cfg.Server.MaxConnections)

	s.fanout = newFanout(s.registry, intakeCh, logBackend.GetLogger("server/fanout"))
	s.listener, err = newListener(s, intakeCh)
	if err != nil {
		return nil, err
	}

	if cfg.Server.MetricsAddress != "" {
		instrument.StartPrometheusListener(cfg.Server.MetricsAddress)
		s.log.Noticef("Serving metrics on: %v", cfg.Server.MetricsAddress)
	}

	return s, nil
}

// Addr returns the address the hub is listening on.
func (s *Server) Addr() net.Addr {
	return s.listener.l.Addr()
}

// Halt performs a graceful shutdown: stop accepting, drain the fan-out
// worker to the still connected peers, then close the connections.
func (s *Server) Halt() {
	s.haltOnce.Do(s.halt)
}

func (s *Server) halt() {
	s.log.Notice("Starting graceful shutdown.")

	// The fan-out drain must run while the registry and the connections
	// are still live; closing them first would flush the queued frames to
	// nobody.
	s.listener.haltAccept()
	if err := s.fanout.HaltWithTimeout(drainTimeout); err != nil {
		s.log.Warningf("Fan-out worker failed to halt in time: %v", err)
	}
	s.listener.closeAll()
	close(s.haltedCh)
	s.log.Notice("Shutdown complete.")
}

// Wait blocks until the hub has been halted, either via Halt or by an
// accept failure.
func (s *Server) Wait() {
	<-s.haltedCh
}

// inboundFrame pairs a received frame with the id of the connection it
// arrived on, so the fan-out worker can skip the originator.
type inboundFrame struct {
	connID uint64
	frame  []byte
}

// registry tracks the currently registered connections.  It is mutated
// only by the accept path and each reader's termination path, and read
// by the fan-out path; the lock is never held across a network write.
type registry struct {
	sync.Mutex

	conns map[uint64]*incomingConn
}

func newRegistry() *registry {
	return &registry{conns: make(map[uint64]*incomingConn)}
}

// add registers the connection unless the hub is already at capacity.
func (r *registry) add(c *incomingConn, max int) bool {
	r.Lock()
	defer r.Unlock()
	if len(r.conns) >= max {
		return false
	}
	r.conns[c.id] = c
	return true
}

func (r *registry) remove(id uint64) {
	r.Lock()
	defer r.Unlock()
	delete(r.conns, id)
}

// peersOf snapshots every registered connection except the originator.
func (r *registry) peersOf(originID uint64) []*incomingConn {
	r.Lock()
	defer r.Unlock()
	peers := make([]*incomingConn, 0, len(r.conns))
	for id, c := range r.conns {
		if id == originID {
			continue
		}
		peers = append(peers, c)
	}
	return peers
}
