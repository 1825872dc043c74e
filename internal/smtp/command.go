package smtp

import "strings"

// Command verbs and prefixes understood by the server. Matching is
// case-sensitive.
const (
	verbHello    = "HELLO"
	prefixMail   = "MAIL FROM:"
	prefixRcpt   = "RCPT TO: "
	verbData     = "DATA"
	verbQuit     = "QUIT"
	bodyTerminus = "."
)

// parseHello matches "HELLO <token>": exactly two whitespace-separated
// fields, the first being HELLO.
func parseHello(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != verbHello {
		return "", false
	}
	return fields[1], true
}

// parseMailFrom matches "MAIL FROM: <address>".
func parseMailFrom(line string) (string, bool) {
	if !strings.HasPrefix(line, prefixMail) {
		return "", false
	}
	return extractAddress(line)
}

// parseRcptTo matches "RCPT TO: <address>". The space after the colon is
// required, so "RCPT TO:<address>" is not recognized.
func parseRcptTo(line string) (string, bool) {
	if !strings.HasPrefix(line, prefixRcpt) {
		return "", false
	}
	return extractAddress(line)
}

// extractAddress returns the text between the first '<' and the following
// '>' in the third whitespace-separated field of line.
func extractAddress(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "", false
	}
	_, rest, ok := strings.Cut(fields[2], "<")
	if !ok {
		return "", false
	}
	addr, _, ok := strings.Cut(rest, ">")
	if !ok || addr == "" {
		return "", false
	}
	return addr, true
}
