// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"gopkg.in/op/go-logging.v1"

	"github.com/joculatrix/mls-chat/core/worker"
	"github.com/joculatrix/mls-chat/server/internal/instrument"
)

// fanout is the single worker that drains the intake queue and forwards
// each frame to every registered connection except its originator.
// Frames from one connection are forwarded in the order received; no
// ordering is guaranteed across connections.
type fanout struct {
	worker.Worker

	log      *logging.Logger
	registry *registry
	intakeCh <-chan *inboundFrame
}

func newFanout(r *registry, intakeCh <-chan *inboundFrame, l *logging.Logger) *fanout {
	f := &fanout{
		log:      l,
		registry: r,
		intakeCh: intakeCh,
	}
	f.Go(f.worker)
	return f
}

func (f *fanout) worker() {
	for {
		var in *inboundFrame
		select {
		case <-f.HaltCh():
			f.drain()
			return
		case in = <-f.intakeCh:
		}
		f.forward(in)
	}
}

// drain forwards every frame already queued at shutdown.  The caller
// keeps the registry and the connections alive until this returns; a
// frame whose send into the intake queue completed is delivered before
// its destination closes.
func (f *fanout) drain() {
	for {
		select {
		case in := <-f.intakeCh:
			f.forward(in)
		default:
			return
		}
	}
}

// forward writes the frame to each peer outside the registry lock.  A
// write failure to one connection is logged and never affects delivery
// to the others; a connection de-registered since the snapshot simply
// fails its write.
func (f *fanout) forward(in *inboundFrame) {
	for _, peer := range f.registry.peersOf(in.connID) {
		if err := peer.writeFrame(in.frame); err != nil {
			instrument.FrameDropped()
			f.log.Warningf("Failed to forward frame from %d to %d: %v", in.connID, peer.id, err)
			continue
		}
		instrument.FrameForwarded()
	}
}
