// SPDX-License-Identifier: AGPL-3.0-only

// Package view implements the terminal rendering and input collaborator
// used by the client controller.  It polls a background stdin reader
// with a bounded wait so the controller's loop never blocks
// indefinitely on the keyboard.
package view

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/joculatrix/mls-chat/core/log"
)

// ErrTerminalFailure is the error returned when rendering to the
// terminal fails.
var ErrTerminalFailure = errors.New("view: terminal failure")

// pollInterval is the bounded wait for user input per controller loop
// iteration.
const pollInterval = 50 * time.Millisecond

// quitCommand ends the session when entered on its own line.
const quitCommand = "/quit"

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	lineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// Window renders the message log and collects line based input.
type Window struct {
	log *logging.Logger
	out io.Writer

	inputCh chan string
	eofCh   chan interface{}

	pending []string
}

// NewWindow creates a window writing to stdout and reading from stdin.
func NewWindow(logBackend *log.Backend) *Window {
	w := &Window{
		log:     logBackend.GetLogger("view"),
		out:     os.Stdout,
		inputCh: make(chan string),
		eofCh:   make(chan interface{}),
	}
	go w.readInput(os.Stdin)
	return w
}

func (w *Window) readInput(r io.Reader) {
	defer close(w.eofCh)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		w.inputCh <- scanner.Text()
	}
}

// RenderLog redraws the display with the current message log.
func (w *Window) RenderLog(lines []string) error {
	var b strings.Builder

	// Home the cursor and clear before redrawing.
	b.WriteString("\x1b[2J\x1b[H")
	b.WriteString(headerStyle.Render("mls-chat"))
	b.WriteString("\n\n")
	for _, line := range lines {
		b.WriteString(lineStyle.Render(line))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(promptStyle.Render("> "))

	if _, err := io.WriteString(w.out, b.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrTerminalFailure, err)
	}
	return nil
}

// Poll waits a bounded interval for terminal activity.  It returns
// false when the user asked to quit or stdin reached end of file.
func (w *Window) Poll() (bool, error) {
	select {
	case s := <-w.inputCh:
		if s == quitCommand {
			return false, nil
		}
		w.pending = append(w.pending, s)
		return true, nil
	case <-w.eofCh:
		w.log.Debug("Input stream closed.")
		return false, nil
	case <-time.After(pollInterval):
		return true, nil
	}
}

// TakeInput returns the oldest completed line of user input, if any.
func (w *Window) TakeInput() (string, bool) {
	if len(w.pending) == 0 {
		return "", false
	}
	s := w.pending[0]
	w.pending = w.pending[1:]
	return s, true
}
