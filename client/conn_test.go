// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joculatrix/mls-chat/core/wire"
)

// dialPair connects a Conn to a local listener and returns it along with
// the hub side of the accepted connection.
func dialPair(t *testing.T) (*Conn, net.Conn) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		connCh <- conn
	}()

	c, err := Dial(l.Addr().String(), testLogBackend(t))
	require.NoError(t, err)
	t.Cleanup(c.Halt)

	select {
	case conn := <-connCh:
		t.Cleanup(func() { conn.Close() })
		return c, conn
	case <-time.After(5 * time.Second):
		require.FailNow(t, "accept timed out")
		return nil, nil
	}
}

func TestConnRoundTrip(t *testing.T) {
	require := require.New(t)

	c, hubSide := dialPair(t)

	c.Send([]byte("outbound"))
	require.NoError(hubSide.SetReadDeadline(time.Now().Add(5 * time.Second)))
	frame, err := wire.ReadFrame(hubSide)
	require.NoError(err)
	require.Equal([]byte("outbound"), frame)

	require.NoError(wire.WriteFrame(hubSide, []byte("inbound")))
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if frames := c.Drain(); len(frames) > 0 {
			require.Equal([][]byte{[]byte("inbound")}, frames)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.FailNow("inbound frame never drained")
}

func TestConnStalledWriteRecovers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping slow stalled write test")
	}
	require := require.New(t)

	c, hubSide := dialPair(t)

	// Fill the socket buffers toward a hub that never reads; the pump's
	// writes must hit the write deadline instead of blocking forever.
	big := make([]byte, wire.MaxFrameLength)
	for i := 0; i < 4; i++ {
		c.Send(big)
	}
	time.Sleep(200 * time.Millisecond)

	// Once the pump is past the stalled writes it services the read side
	// again.
	require.NoError(wire.WriteFrame(hubSide, []byte("still alive")))
	deadline := time.Now().Add(45 * time.Second)
	for time.Now().Before(deadline) {
		for _, frame := range c.Drain() {
			if string(frame) == "still alive" {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.FailNow("pump never recovered from the stalled write")
}
