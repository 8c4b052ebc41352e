// ABOUTME: Tests for the session registry: binding, multiplexing, delivery
// ABOUTME: Uses an in-memory fake connection that records sent payloads

package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records everything sent to it; failSend makes Send return an error.
type fakeConn struct {
	id        string
	sessionID string
	failSend  bool

	mu   sync.Mutex
	sent [][]byte
}

func (c *fakeConn) ID() string        { return c.id }
func (c *fakeConn) SessionID() string { return c.sessionID }

func (c *fakeConn) Send(payload []byte) error {
	if c.failSend {
		return errors.New("write failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestBindMakesIdentityReachable(t *testing.T) {
	reg := New(nil)
	conn := &fakeConn{id: "conn-1", sessionID: "sess-1"}

	sessionID, err := reg.Bind(conn, "alice")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)

	assert.True(t, reg.IsReachable("alice"))
	assert.Equal(t, []string{"alice"}, reg.Reachable())
	assert.Equal(t, 1, reg.ConnectionCount())
}

func TestBindRejectsEmptySession(t *testing.T) {
	reg := New(nil)
	conn := &fakeConn{id: "conn-1", sessionID: ""}

	_, err := reg.Bind(conn, "alice")
	assert.ErrorIs(t, err, ErrUnboundSession)
	assert.False(t, reg.IsReachable("alice"))
}

func TestUnbindLastConnectionRemovesReachability(t *testing.T) {
	reg := New(nil)
	conn := &fakeConn{id: "conn-1", sessionID: "sess-1"}

	_, err := reg.Bind(conn, "alice")
	require.NoError(t, err)
	require.True(t, reg.IsReachable("alice"))

	reg.Unbind(conn)
	assert.False(t, reg.IsReachable("alice"))
	assert.Empty(t, reg.Reachable())
	assert.Equal(t, 0, reg.ConnectionCount())
}

func TestMultiplexedConnectionsShareSession(t *testing.T) {
	reg := New(nil)
	conn1 := &fakeConn{id: "conn-1", sessionID: "sess-1"}
	conn2 := &fakeConn{id: "conn-2", sessionID: "sess-1"}

	_, err := reg.Bind(conn1, "alice")
	require.NoError(t, err)
	_, err = reg.Bind(conn2, "alice")
	require.NoError(t, err)

	assert.Equal(t, 2, reg.ConnectionCount())

	// Closing one connection keeps the identity reachable
	reg.Unbind(conn1)
	assert.True(t, reg.IsReachable("alice"))

	// Closing the last one removes it
	reg.Unbind(conn2)
	assert.False(t, reg.IsReachable("alice"))
}

func TestRebindOverwritesIdentity(t *testing.T) {
	reg := New(nil)
	conn := &fakeConn{id: "conn-1", sessionID: "sess-1"}

	_, err := reg.Bind(conn, "alice")
	require.NoError(t, err)

	// Same session re-claims a different identity: last writer wins
	conn2 := &fakeConn{id: "conn-2", sessionID: "sess-1"}
	_, err = reg.Bind(conn2, "bob")
	require.NoError(t, err)

	assert.False(t, reg.IsReachable("alice"))
	assert.True(t, reg.IsReachable("bob"))

	identity, err := reg.CurrentIdentity(conn)
	require.NoError(t, err)
	assert.Equal(t, "bob", identity)
}

func TestReachableIsSorted(t *testing.T) {
	reg := New(nil)
	for i, name := range []string{"carol", "alice", "bob"} {
		conn := &fakeConn{id: fmt.Sprintf("conn-%d", i), sessionID: fmt.Sprintf("sess-%d", i)}
		_, err := reg.Bind(conn, name)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alice", "bob", "carol"}, reg.Reachable())
}

func TestDeliverFansOutToAllConnections(t *testing.T) {
	reg := New(nil)
	conn1 := &fakeConn{id: "conn-1", sessionID: "sess-1"}
	conn2 := &fakeConn{id: "conn-2", sessionID: "sess-1"}

	_, err := reg.Bind(conn1, "alice")
	require.NoError(t, err)
	_, err = reg.Bind(conn2, "alice")
	require.NoError(t, err)

	delivered := reg.Deliver("alice", []byte("payload"))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, conn1.sentCount())
	assert.Equal(t, 1, conn2.sentCount())
}

func TestDeliverSwallowsSendFailures(t *testing.T) {
	reg := New(nil)
	good := &fakeConn{id: "conn-1", sessionID: "sess-1"}
	bad := &fakeConn{id: "conn-2", sessionID: "sess-1", failSend: true}

	_, err := reg.Bind(good, "alice")
	require.NoError(t, err)
	_, err = reg.Bind(bad, "alice")
	require.NoError(t, err)

	delivered := reg.Deliver("alice", []byte("payload"))
	assert.Equal(t, 1, delivered)
}

func TestDeliverUnknownIdentityReturnsZero(t *testing.T) {
	reg := New(nil)
	assert.Equal(t, 0, reg.Deliver("nobody", []byte("payload")))
}

func TestCurrentIdentity(t *testing.T) {
	reg := New(nil)
	conn := &fakeConn{id: "conn-1", sessionID: "sess-1"}

	_, err := reg.CurrentIdentity(conn)
	assert.ErrorIs(t, err, ErrUnboundSession)

	_, err = reg.Bind(conn, "alice")
	require.NoError(t, err)

	identity, err := reg.CurrentIdentity(conn)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)

	noSession := &fakeConn{id: "conn-2", sessionID: ""}
	_, err = reg.CurrentIdentity(noSession)
	assert.ErrorIs(t, err, ErrUnboundSession)
}

func TestConcurrentBindUnbindDeliver(t *testing.T) {
	reg := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn := &fakeConn{
				id:        fmt.Sprintf("conn-%d", n),
				sessionID: fmt.Sprintf("sess-%d", n%10),
			}
			identity := fmt.Sprintf("user-%d", n%10)
			if _, err := reg.Bind(conn, identity); err != nil {
				return
			}
			reg.Deliver(identity, []byte("x"))
			reg.IsReachable(identity)
			reg.Unbind(conn)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.ConnectionCount())
	assert.Empty(t, reg.Reachable())
}
