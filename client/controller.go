// SPDX-License-Identifier: AGPL-3.0-only

// Package client implements the chat client: the connection to the hub,
// the frame dispatcher, and the controller loop tying the participant,
// dispatcher, and connection together.
package client

import (
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/joculatrix/mls-chat/core/log"
	"github.com/joculatrix/mls-chat/crypto/groupkey"
	"github.com/joculatrix/mls-chat/session"
)

// View is the terminal collaborator the controller renders through and
// polls input from.
type View interface {
	// RenderLog redraws the display with the current message log.
	RenderLog(lines []string) error

	// Poll waits a bounded interval for terminal activity and reports
	// whether the controller should keep running.
	Poll() (bool, error)

	// TakeInput returns a completed line of user input, if any.
	TakeInput() (string, bool)
}

// Controller drives the read input, dispatch, render/send loop.
type Controller struct {
	log *logging.Logger

	conn        *Conn
	participant *session.Participant
	dispatcher  *Dispatcher
	window      View

	// msgLog is the append only display log; it is not protocol state.
	msgLog []string
}

// NewController connects to the hub, generates the participant's
// identity and solo group, and wires the dispatcher.  Construction
// failures are fatal and reported to the operator by the caller.
func NewController(cfg *Config, window View, logBackend *log.Backend) (*Controller, error) {
	conn, err := Dial(cfg.Server, logBackend)
	if err != nil {
		return nil, err
	}

	participant, err := session.NewParticipant(cfg.UserID, groupkey.NewProvider())
	if err != nil {
		conn.Halt()
		return nil, err
	}

	c := &Controller{
		log:         logBackend.GetLogger("client/controller"),
		conn:        conn,
		participant: participant,
		window:      window,
	}
	c.dispatcher = NewDispatcher(participant, conn.Send, c.appendLog,
		logBackend.GetLogger("client/dispatch"))
	return c, nil
}

func (c *Controller) appendLog(line string) {
	c.msgLog = append(c.msgLog, line)
}

// Run announces this participant's key material and then loops: render
// the message log, poll for user input, and dispatch newly arrived
// frames.  It returns when the view asks to stop or a session level
// failure leaves the key material unusable.
func (c *Controller) Run() error {
	defer c.conn.Halt()

	announcement, err := c.participant.Announce()
	if err != nil {
		return err
	}
	c.conn.Send(announcement)

	for {
		if err = c.window.RenderLog(c.msgLog); err != nil {
			return err
		}

		ok, err := c.window.Poll()
		if err != nil {
			return err
		}
		if !ok {
			c.log.Debug("View requested shutdown.")
			return nil
		}

		if s, haveInput := c.window.TakeInput(); haveInput && s != "" {
			if err = c.sendChatMessage(s); err != nil {
				return err
			}
		}

		for _, frame := range c.conn.Drain() {
			if err = c.dispatcher.Dispatch(frame); err != nil {
				// Session level failure; the key material may be in an
				// inconsistent state, so the session terminates.
				return err
			}
		}
	}
}

// sendChatMessage formats, records, encrypts, and sends one line of user
// input, then rotates this participant's keys and broadcasts the
// rotation artifact.  Rotation after every outgoing message bounds the
// exposure window of any single key.
func (c *Controller) sendChatMessage(msg string) error {
	line := fmt.Sprintf("[%s] %s: %s",
		time.Now().UTC().Format("15:04:05"), c.participant.ID(), msg)
	c.appendLog(line)

	frame, err := c.participant.Encrypt([]byte(line))
	if err != nil {
		return err
	}
	c.conn.Send(frame)

	rotation, err := c.participant.RotateKeys()
	if err != nil {
		return err
	}
	c.conn.Send(rotation)
	return nil
}
