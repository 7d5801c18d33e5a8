package connection

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbridge/daemon/pkg/envelope"
)

func newPipeConn(maxBufferedBytes int) (*Conn, net.Conn) {
	server, client := net.Pipe()
	return NewConn(server, maxBufferedBytes), client
}

func TestSendDestroysConnectionOnBufferOverflow(t *testing.T) {
	c, client := newPipeConn(0)
	defer client.Close()

	// net.Pipe is unbuffered and synchronous, so with no reader draining
	// and a zero-byte ceiling, the very first frame already exceeds it.
	ok, _, _ := c.Send(envelope.Envelope{Kind: envelope.KindAuthOK})
	assert.False(t, ok)
	assert.Equal(t, StateClosing, c.State)
}

func TestSendSucceedsWithinBufferCeiling(t *testing.T) {
	c, client := newPipeConn(1 << 20)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		_, _ = client.Read(buf)
		close(done)
	}()

	ok, _, _ := c.Send(envelope.Envelope{Kind: envelope.KindAuthOK})
	require.True(t, ok)
	<-done
}

func TestAuthenticateTransitionsState(t *testing.T) {
	c, client := newPipeConn(1 << 20)
	defer client.Close()

	assert.Equal(t, StateUnauthenticated, c.State)
	assert.False(t, c.IsAuthenticated())

	c.Authenticate()
	assert.True(t, c.IsAuthenticated())
}

func TestTrackAndUntrackAttachment(t *testing.T) {
	c, client := newPipeConn(1 << 20)
	defer client.Close()

	c.TrackAttachment("sess1")
	assert.Contains(t, c.AttachedSessionIDs(), "sess1")

	c.UntrackAttachment("sess1")
	assert.NotContains(t, c.AttachedSessionIDs(), "sess1")
}
