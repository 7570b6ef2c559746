package provider

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// acceptOne runs a single-connection fake Asterisk server on an
// ephemeral port and returns its address. It accepts exactly one
// connection, replies to Login, and otherwise echoes Success.
func acceptOne(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fmt.Fprint(conn, "Asterisk Call Manager/2.10.6\r\n")
		r := bufio.NewReader(conn)
		for {
			fields := map[string]string{}
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				line = strings.TrimRight(line, "\r\n")
				if line == "" {
					break
				}
				parts := strings.SplitN(line, ":", 2)
				if len(parts) == 2 {
					fields[strings.ToLower(parts[0])] = strings.TrimSpace(parts[1])
				}
			}
			name := fields["action"]
			id := fields["actionid"]
			if strings.EqualFold(name, "logoff") {
				fmt.Fprintf(conn, "Response: Goodbye\r\nActionID: %s\r\n\r\n", id)
				return
			}
			fmt.Fprintf(conn, "Response: Success\r\nActionID: %s\r\n\r\n", id)
		}
	}()

	return ln.Addr().String()
}

func TestProviderConnectReachesConnectedState(t *testing.T) {
	addr := acceptOne(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	p := New(Config{
		Title:    "pbx1",
		Address:  host,
		Port:     port,
		Username: "admin",
		Secret:   "secret",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := p.Connect(ctx)
	require.NoError(t, err)
	require.Equal(t, Connected, p.State())
	require.False(t, p.LastConnectedAt().IsZero())
	require.NotNil(t, sess)

	p.Disconnect(context.Background())
}

func TestConfigEqual(t *testing.T) {
	a := Config{Title: "pbx1", Address: "10.0.0.1", Port: 5038, Username: "admin", Secret: "s3cret"}
	b := a
	require.True(t, a.Equal(b))

	b.Secret = "different"
	require.False(t, a.Equal(b))
}
