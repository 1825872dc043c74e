package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHello(t *testing.T) {
	tests := []struct {
		line  string
		token string
		ok    bool
	}{
		{"HELLO relay.example.com", "relay.example.com", true},
		{"  HELLO   relay  ", "relay", true},
		{"HELLO", "", false},
		{"HELLO a b", "", false},
		{"hello relay", "", false},
		{"HELO relay", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			token, ok := parseHello(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestParseMailFrom(t *testing.T) {
	tests := []struct {
		line string
		addr string
		ok   bool
	}{
		{"MAIL FROM: <alice>", "alice", true},
		{"MAIL FROM: <alice@example.com> SIZE=10", "alice@example.com", true},
		{"MAIL FROM: x<alice>y", "alice", true},
		{"MAIL FROM: alice", "", false},
		{"MAIL FROM: <>", "", false},
		{"MAIL FROM: <alice", "", false},
		{"MAIL FROM:<alice>", "", false},
		{"MAIL FROM:", "", false},
		{"mail from: <alice>", "", false},
		{"RCPT TO: <alice>", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			addr, ok := parseMailFrom(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.addr, addr)
		})
	}
}

func TestParseRcptTo(t *testing.T) {
	tests := []struct {
		line string
		addr string
		ok   bool
	}{
		{"RCPT TO: <bob>", "bob", true},
		{"RCPT TO:  <bob>", "bob", true},
		{"RCPT TO:<bob>", "", false},
		{"RCPT TO:bob", "", false},
		{"RCPT TO: bob", "", false},
		{"RCPT TO: <>", "", false},
		{"MAIL FROM: <bob>", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			addr, ok := parseRcptTo(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.addr, addr)
		})
	}
}
