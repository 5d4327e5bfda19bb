// SPDX-License-Identifier: AGPL-3.0-only

package view

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joculatrix/mls-chat/core/log"
)

func newTestWindow(t *testing.T, input string, out io.Writer) *Window {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)

	w := &Window{
		log:     logBackend.GetLogger("view"),
		out:     out,
		inputCh: make(chan string),
		eofCh:   make(chan interface{}),
	}
	go w.readInput(strings.NewReader(input))
	return w
}

func TestRenderLog(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	w := newTestWindow(t, "", &buf)
	require.NoError(w.RenderLog([]string{"[12:00:00] A: hello"}))
	require.Contains(buf.String(), "[12:00:00] A: hello")
	require.Contains(buf.String(), "> ")
}

func TestPollAndTakeInput(t *testing.T) {
	require := require.New(t)

	w := newTestWindow(t, "hello there\n/quit\n", io.Discard)

	// First line queues as pending input.
	ok, err := w.Poll()
	require.NoError(err)
	require.True(ok)
	s, have := w.TakeInput()
	require.True(have)
	require.Equal("hello there", s)

	// The quit command stops the loop and is never surfaced as input.
	for {
		ok, err = w.Poll()
		require.NoError(err)
		if !ok {
			break
		}
	}
	_, have = w.TakeInput()
	require.False(have)
}
