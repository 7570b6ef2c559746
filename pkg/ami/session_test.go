package ami

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeServer plays the Asterisk side of the wire: greeting, accept any
// login, echo an unsolicited event right after, then answer Ping and
// Logoff so Session.Close has something to round-trip against.
func fakeServer(conn net.Conn) {
	fmt.Fprint(conn, "Asterisk Call Manager/2.10.6\r\n")
	fr := NewFramer(conn)

	loginPkt, err := fr.ReadPacket()
	if err != nil {
		return
	}
	loginID, _ := loginPkt.first("actionid")
	fmt.Fprintf(conn, "Response: Success\r\nActionID: %s\r\nMessage: Authentication accepted\r\n\r\n", loginID)
	fmt.Fprint(conn, "Event: TestEvent\r\nSomeKey: SomeValue\r\n\r\n")

	for {
		pkt, err := fr.ReadPacket()
		if err != nil {
			return
		}
		name, _ := pkt.first("action")
		id, _ := pkt.first("actionid")
		switch strings.ToLower(name) {
		case "ping":
			fmt.Fprintf(conn, "Response: Success\r\nActionID: %s\r\nPing: Pong\r\n\r\n", id)
		case "command":
			fmt.Fprintf(conn, "Response: Follows\r\nPrivilege: Command\r\nActionID: %s\r\n"+
				"System uptime: 3 days, 4 hours\r\nLast reload: 1 hour\r\n--END COMMAND--\r\n\r\n", id)
		case "logoff":
			fmt.Fprintf(conn, "Response: Goodbye\r\nActionID: %s\r\nMessage: Thanks for all the fish\r\n\r\n", id)
			return
		default:
			fmt.Fprintf(conn, "Response: Success\r\nActionID: %s\r\n\r\n", id)
		}
	}
}

func newConnectedSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	go fakeServer(serverConn)

	sess := NewSession(clientConn, SessionConfig{
		ProviderTitle:  "pbx1",
		DefaultTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sess.Connect(ctx, Credentials{Username: "admin", Secret: "secret"})
	require.NoError(t, err)
	require.Equal(t, Online, sess.State())
	return sess, serverConn
}

func TestSessionConnectReachesOnline(t *testing.T) {
	sess, _ := newConnectedSession(t)
	defer sess.Close(context.Background())
}

func TestSessionDeliversUnsolicitedEvents(t *testing.T) {
	sess, _ := newConnectedSession(t)
	defer sess.Close(context.Background())

	received := make(chan *Event, 1)
	sess.Subscribe(EventNamed("TestEvent"), SinkFunc(func(provider string, rec Record) {
		if e, ok := rec.(*Event); ok {
			received <- e
		}
	}))

	select {
	case e := <-received:
		require.Equal(t, "TestEvent", e.Name)
		require.Equal(t, "SomeValue", e.Extras()["somekey"])
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestSessionSubmitPing(t *testing.T) {
	sess, _ := newConnectedSession(t)
	defer sess.Close(context.Background())

	fut, err := sess.Submit(context.Background(), Action{Name: "Ping"})
	require.NoError(t, err)

	outcome, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResponseSuccess, outcome.Response.Response)
	require.Equal(t, "Pong", outcome.Response.Extras()["ping"])
}

// TestSessionSubmitCommandFollows drives scenario 5 of the testable
// properties: a Command action whose reply has no blank line between
// its header and its raw body.
func TestSessionSubmitCommandFollows(t *testing.T) {
	sess, _ := newConnectedSession(t)
	defer sess.Close(context.Background())

	fut, err := sess.Submit(context.Background(), Action{Name: "Command", Fields: []KV{{Key: "Command", Value: "core show uptime"}}})
	require.NoError(t, err)

	outcome, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResponseFollows, outcome.Response.Response)
	require.Equal(t, "System uptime: 3 days, 4 hours\nLast reload: 1 hour\n", outcome.Response.Output)
}

func TestSessionSubmitRejectedBeforeOnline(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess := NewSession(clientConn, SessionConfig{ProviderTitle: "pbx1"})
	_, err := sess.Submit(context.Background(), Action{Name: "Ping"})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindDisconnected, kind)
}

func TestSessionCloseNotifiesDisconnected(t *testing.T) {
	sess, _ := newConnectedSession(t)

	disconnected := make(chan error, 1)
	sess.Subscribe(AllEvents, SinkFunc(func(provider string, rec Record) {
		if d, ok := rec.(*Disconnected); ok {
			disconnected <- d.Reason
		}
	}))

	require.NoError(t, sess.Close(context.Background()))

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("no Disconnected signal observed")
	}
	require.Equal(t, Closed, sess.State())
}
