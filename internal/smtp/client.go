package smtp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// ClientConfig represents the client configuration.
type ClientConfig struct {
	Identifier    string        // token sent with HELLO
	DialTimeout   time.Duration // 0 means no timeout beyond ctx
	MaxLineLength int           // 0 selects DefaultMaxLineLength
}

// Composer supplies the envelope and body for one message.
type Composer interface {
	Sender(ctx context.Context) (string, error)
	Recipient(ctx context.Context) (string, error)
	// BodyLine returns the next body line. The line "." ends the body.
	BodyLine(ctx context.Context) (string, error)
}

// PromptComposer asks a person for the message on a terminal.
type PromptComposer struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPromptComposer reads answers from in and writes prompts to out.
func NewPromptComposer(in io.Reader, out io.Writer) *PromptComposer {
	return &PromptComposer{in: bufio.NewReader(in), out: out}
}

func (p *PromptComposer) Sender(ctx context.Context) (string, error) {
	return p.prompt("MAIL FROM: ")
}

func (p *PromptComposer) Recipient(ctx context.Context) (string, error) {
	return p.prompt("RCPT TO: ")
}

// BodyLine ends the body when the input is exhausted.
func (p *PromptComposer) BodyLine(ctx context.Context) (string, error) {
	line, err := p.readLine()
	if errors.Is(err, io.EOF) {
		return bodyTerminus, nil
	}
	return line, err
}

func (p *PromptComposer) prompt(label string) (string, error) {
	if _, err := io.WriteString(p.out, label); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}
	line, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read %q answer: %w", strings.TrimSpace(label), err)
	}
	return line, nil
}

func (p *PromptComposer) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// MessageComposer supplies a fixed message.
type MessageComposer struct {
	From string
	To   string
	Body []string

	next int
}

// NewMessageComposer splits body into lines. A trailing newline does not
// produce an extra empty line.
func NewMessageComposer(from, to, body string) *MessageComposer {
	body = strings.TrimSuffix(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	var lines []string
	if body != "" {
		lines = strings.Split(body, "\n")
	}
	return &MessageComposer{From: from, To: to, Body: lines}
}

func (m *MessageComposer) Sender(context.Context) (string, error)    { return m.From, nil }
func (m *MessageComposer) Recipient(context.Context) (string, error) { return m.To, nil }

// BodyLine returns the body lines in order, then ".".
func (m *MessageComposer) BodyLine(context.Context) (string, error) {
	if m.next >= len(m.Body) {
		return bodyTerminus, nil
	}
	line := m.Body[m.next]
	m.next++
	return line, nil
}

// Client drives the sending side of one exchange.
type Client struct {
	conn       *LineConn
	composer   Composer
	identifier string
	logger     *slog.Logger
}

// Dial connects to addr and returns a client ready to Send.
func Dial(ctx context.Context, addr string, config *ClientConfig, composer Composer, logger *slog.Logger) (*Client, error) {
	dialer := net.Dialer{Timeout: config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewClient(conn, config, composer, logger), nil
}

// NewClient wraps an established connection. The client owns conn.
func NewClient(conn net.Conn, config *ClientConfig, composer Composer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	identifier := config.Identifier
	if identifier == "" {
		identifier = "localhost"
	}
	return &Client{
		conn:       NewLineConn(conn, config.MaxLineLength, 0),
		composer:   composer,
		identifier: identifier,
		logger: logger.With(
			"component", "smtp-client",
			"remote_addr", conn.RemoteAddr().String(),
		),
	}
}

// Send reacts to server replies until the closing 221 arrives. The
// connection is closed when Send returns; cancelling ctx closes it early.
func (c *Client) Send(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.Close()
	})
	defer func() {
		stop()
		_ = c.conn.Close()
	}()

	var sentRecipient, sentData bool

	for {
		reply, err := c.conn.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("exchange cancelled: %w", ctx.Err())
			}
			return fmt.Errorf("connection ended before closing reply: %w", err)
		}
		c.logger.InfoContext(ctx, "received", "line", reply)

		switch {
		case strings.HasPrefix(reply, "221"):
			c.logger.InfoContext(ctx, "Exchange complete")
			return nil

		case strings.HasPrefix(reply, "220"):
			err = c.send(ctx, "HELLO "+c.identifier)

		case strings.HasPrefix(reply, "250 Hello"):
			var sender string
			if sender, err = c.composer.Sender(ctx); err == nil {
				err = c.send(ctx, fmt.Sprintf("MAIL FROM: <%s>", sender))
			}

		case reply == "250 ok" && !sentRecipient:
			var recipient string
			if recipient, err = c.composer.Recipient(ctx); err == nil {
				err = c.send(ctx, fmt.Sprintf("RCPT TO: <%s>", recipient))
				sentRecipient = true
			}

		case reply == "250 ok" && !sentData:
			err = c.send(ctx, verbData)
			sentData = true

		case strings.HasPrefix(reply, "354"):
			err = c.sendBody(ctx)

		case strings.HasPrefix(reply, "250 ok Message"):
			err = c.send(ctx, verbQuit)

		default:
			c.logger.DebugContext(ctx, "Reply ignored", "line", reply)
		}

		if err != nil {
			return err
		}
	}
}

func (c *Client) sendBody(ctx context.Context) error {
	for {
		line, err := c.composer.BodyLine(ctx)
		if err != nil {
			return fmt.Errorf("failed to compose body: %w", err)
		}
		if err := c.send(ctx, line); err != nil {
			return err
		}
		if line == bodyTerminus {
			return nil
		}
	}
}

func (c *Client) send(ctx context.Context, line string) error {
	c.logger.InfoContext(ctx, "sent", "line", line)
	if err := c.conn.WriteLine(line); err != nil {
		return fmt.Errorf("failed to send %q: %w", line, err)
	}
	return nil
}
