package ami

import (
	"bufio"
	"io"
	"strings"
)

const (
	followsSentinel = "--END COMMAND--"
	greetingPrefix  = "Asterisk Call Manager/"
)

// Framer splits a byte stream from a connected transport into AMI
// packets. ReadGreeting consumes the single greeting line; ReadPacket
// groups CRLF-terminated "Key: Value" lines into packets ended by a
// blank line. A packet whose header carries "Response: Follows" has
// no blank line between its header and its command output — the
// output is raw, unprefixed lines running straight into the next
// field line's position. ReadPacket detects this while it is still
// reading the header and switches into raw-body collection itself,
// so the body never gets misparsed as fields (spec section 4.1/6).
type Framer struct {
	r *bufio.Reader
}

// NewFramer wraps r for packet-at-a-time reading.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReader(r)}
}

// readLine reads one line and strips the trailing CRLF/LF.
func (f *Framer) readLine() (string, error) {
	line, err := f.r.ReadString('\n')
	if err != nil {
		if line == "" {
			return "", newError(KindTransport, "transport closed", io.EOF)
		}
		// Partial line followed by EOF: still usable, but the caller
		// will fail on the next read.
	}
	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

// ReadGreeting consumes and validates the single line the server sends
// on connect. It must be called exactly once, before ReadPacket.
func (f *Framer) ReadGreeting() (string, error) {
	line, err := f.readLine()
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(line, greetingPrefix) {
		return "", newError(KindProtocolMismatch, "unrecognised greeting: "+line, nil)
	}
	return strings.TrimPrefix(line, greetingPrefix), nil
}

// ReadPacket reads lines until a blank line terminates the packet. If
// the header declares "Response: Follows", it switches to collecting
// the raw command body as soon as that line is seen, resuming normal
// field parsing only for the packet-terminating blank line — there is
// no blank line between the header and the body on the wire.
func (f *Framer) ReadPacket() (*Packet, error) {
	p := &Packet{}
	for {
		line, err := f.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			if len(p.fields) == 0 {
				// Tolerate stray blank lines between packets.
				continue
			}
			return p, nil
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, newError(KindMalformedPacket, "line without ':': "+line, nil)
		}
		key := line[:idx]
		value := strings.TrimPrefix(line[idx+1:], " ")
		value = strings.TrimRight(value, " \t")
		p.add(key, value)

		if strings.EqualFold(strings.TrimSpace(key), "response") && strings.EqualFold(strings.TrimSpace(value), string(ResponseFollows)) {
			body, err := f.readFollowsBody()
			if err != nil {
				return nil, err
			}
			// The Privilege/ActionID header lines that follow
			// "Response: Follows" precede the command output; keep them
			// as packet fields rather than body text.
			for body != "" {
				line, rest, _ := strings.Cut(body, "\n")
				k, v, ok := strings.Cut(line, ":")
				lk := strings.ToLower(strings.TrimSpace(k))
				if !ok || (lk != "privilege" && lk != "actionid") {
					break
				}
				p.add(k, strings.TrimSpace(v))
				body = rest
			}
			p.output = body
		}
	}
}

// readFollowsBody collects raw lines until the literal sentinel line
// "--END COMMAND--", per spec section 4.1/6. The returned text has the
// sentinel removed but keeps the line structure, newline-joined.
func (f *Framer) readFollowsBody() (string, error) {
	var lines []string
	for {
		line, err := f.readLine()
		if err != nil {
			return "", newError(KindTransport, "transport closed before --END COMMAND--", err)
		}
		if line == followsSentinel {
			if len(lines) == 0 {
				return "", nil
			}
			return strings.Join(lines, "\n") + "\n", nil
		}
		lines = append(lines, line)
	}
}
