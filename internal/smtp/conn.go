package smtp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// DefaultMaxLineLength bounds a single protocol or body line, terminator included.
const DefaultMaxLineLength = 64 * 1024

var (
	// ErrEndOfStream is returned by ReadLine once the peer has closed the
	// connection, or the connection was closed locally.
	ErrEndOfStream = errors.New("smtp: end of stream")

	// ErrLineTooLong is returned when a line exceeds the configured limit.
	ErrLineTooLong = errors.New("smtp: line too long")

	// ErrIdleTimeout is returned when no complete line arrives within the idle timeout.
	ErrIdleTimeout = errors.New("smtp: idle timeout")
)

// LineConn is a line-delimited text channel over a stream connection.
// Every WriteLine is flushed before it returns.
type LineConn struct {
	conn        net.Conn
	r           *bufio.Reader
	w           *bufio.Writer
	maxLen      int
	idleTimeout time.Duration
}

// NewLineConn wraps c. maxLen <= 0 selects DefaultMaxLineLength; an
// idleTimeout of zero disables read deadlines.
func NewLineConn(c net.Conn, maxLen int, idleTimeout time.Duration) *LineConn {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}
	return &LineConn{
		conn:        c,
		r:           bufio.NewReaderSize(c, 4096),
		w:           bufio.NewWriterSize(c, 4096),
		maxLen:      maxLen,
		idleTimeout: idleTimeout,
	}
}

// ReadLine reads one line and returns it without its \n or \r\n terminator.
// An unterminated final line is returned as a line; the following call
// reports ErrEndOfStream.
func (c *LineConn) ReadLine() (string, error) {
	if c.idleTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return "", classifyReadError(err)
		}
	}

	var line []byte
	for {
		chunk, isPrefix, err := c.r.ReadLine()
		if err != nil {
			return "", classifyReadError(err)
		}
		line = append(line, chunk...)
		if len(line)+2 > c.maxLen {
			// Drain the rest of the line.
			for isPrefix {
				if _, isPrefix, err = c.r.ReadLine(); err != nil {
					return "", classifyReadError(err)
				}
			}
			return "", fmt.Errorf("%w (%d bytes, max %d)", ErrLineTooLong, len(line), c.maxLen)
		}
		if !isPrefix {
			return string(line), nil
		}
	}
}

// WriteLine writes line followed by \r\n and flushes the buffer.
func (c *LineConn) WriteLine(line string) error {
	if _, err := c.w.WriteString(line); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	if _, err := c.w.WriteString("\r\n"); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *LineConn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *LineConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// classifyReadError maps the ways a stream can end onto ErrEndOfStream.
func classifyReadError(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ErrEndOfStream
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrIdleTimeout
	}
	return fmt.Errorf("failed to read line: %w", err)
}
