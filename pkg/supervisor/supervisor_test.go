package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sufficit/asterisk-manager-go/pkg/ami"
	"github.com/sufficit/asterisk-manager-go/pkg/health"
	"github.com/sufficit/asterisk-manager-go/pkg/provider"
)

// serveForever answers every accepted connection on ln with a
// greeting, an unconditional Login success, and Success for anything
// else, until the listener is closed.
func serveForever(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
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
					fmt.Fprintf(conn, "Response: Success\r\nActionID: %s\r\n\r\n", fields["actionid"])
				}
			}(conn)
		}
	}()
}

func TestSupervisorStartConnectsAndReportsHealthy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	serveForever(t, ln)

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	policy := RetryPolicy{EnableInitialRetry: true, InitialRetryDelay: 10 * time.Millisecond, DelayIncrement: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
	healthCfg := health.Config{Threshold: health.Threshold{Kind: health.AtLeastOneProvider}}
	sup := New(policy, healthCfg, nil)
	sup.AddProvider(provider.Config{Title: "pbx1", Address: host, Port: port, Username: "admin", Secret: "secret"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Start(ctx))

	require.Eventually(t, func() bool {
		return sup.CheckHealth().IsHealthy
	}, time.Second, 10*time.Millisecond)

	sup.Stop(context.Background(), time.Second)
}

func TestSupervisorSubscribeReceivesEventsAcrossReconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fmt.Fprint(conn, "Asterisk Call Manager/2.10.6\r\n")
			r := bufio.NewReader(conn)
			// consume login
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					conn.Close()
					break
				}
				if strings.TrimRight(line, "\r\n") == "" {
					break
				}
			}
			fmt.Fprint(conn, "Response: Success\r\nActionID: x\r\n\r\n")
			fmt.Fprintf(conn, "Event: Iteration%d\r\n\r\n", i)
			// hang briefly then close to force a reconnect
			time.Sleep(50 * time.Millisecond)
			conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	policy := RetryPolicy{EnableInitialRetry: true, InitialRetryDelay: 5 * time.Millisecond, DelayIncrement: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	sup := New(policy, health.Config{Threshold: health.Threshold{Kind: health.AtLeastOneProvider}}, nil)
	sup.AddProvider(provider.Config{Title: "pbx1", Address: host, Port: port, Username: "admin", Secret: "secret"})

	seen := make(chan string, 4)
	sup.Subscribe(ami.AllEvents, ami.SinkFunc(func(providerTitle string, rec ami.Record) {
		if e, ok := rec.(*ami.Event); ok {
			seen <- e.Name
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, sup.Start(ctx))

	names := map[string]bool{}
	for len(names) < 2 {
		select {
		case name := <-seen:
			names[name] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only saw %v before timeout", names)
		}
	}
	require.True(t, names["Iteration0"])
	require.True(t, names["Iteration1"])

	sup.Stop(context.Background(), time.Second)
}
