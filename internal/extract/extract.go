// Package extract pulls structured fields out of free-text proxy log lines.
// Every function returns a sentinel on a miss; none of them fail.
package extract

import (
	"regexp"
	"strconv"

	"connlog/pkg/models"
)

// UnknownHost is returned by Host when a message names no host
const UnknownHost = "unknown"

var (
	connIDPattern    = regexp.MustCompile(`(?i)conn_id:\s*(\d+)`)
	hostPattern      = regexp.MustCompile(`host[:=]\s*([^\s,]+)`)
	proxyPeerPattern = regexp.MustCompile(`(?i)proxy_peer:\s*Some\("([^"]+)"\)`)
	ipv4Pattern      = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}$`)
)

// ConnectionID returns the first `conn_id:<digits>` value in msg.
// Matching ignores case. Digit runs that overflow int64 count as a miss.
func ConnectionID(msg string) (int64, bool) {
	m := connIDPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Host returns the token after `host:` or `host=`, or UnknownHost
func Host(msg string) string {
	m := hostPattern.FindStringSubmatch(msg)
	if m == nil {
		return UnknownHost
	}
	return m[1]
}

// ProxyPeer scans records newest to oldest and returns the first
// `proxy_peer: Some("<value>")` value found
func ProxyPeer(records []models.LogRecord) (string, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if m := proxyPeerPattern.FindStringSubmatch(records[i].Message); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// IsIPv4Literal reports whether s is four dot separated groups of 1-3 digits.
// Group values are not range checked, so "999.1.1.1" is accepted.
func IsIPv4Literal(s string) bool {
	return ipv4Pattern.MatchString(s)
}
