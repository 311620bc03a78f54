// Package localctl is the local IPC control plane between ringlinkctl
// and ringlinkd: an HTTP+JSON server over a unix socket (or a Windows
// named pipe) exposing one running client.Client's operation surface
// and event stream.
package localctl

import (
	"os"
	"os/user"
	"path/filepath"
)

const socketFileName = "ringlinkd.sock"

// RingLinkDir returns ~/.ringlink, creating it if necessary. The
// SUDO_USER fallback keeps a daemon started under sudo resolving the
// invoking user's home rather than root's.
func RingLinkDir() (string, error) {
	userName := os.Getenv("SUDO_USER")
	if userName == "" {
		userName = os.Getenv("USER")
	}
	var home string
	if u, err := user.Lookup(userName); err == nil && u != nil {
		home = u.HomeDir
	} else {
		home = os.Getenv("HOME")
	}
	dir := filepath.Join(home, ".ringlink")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// NicknameRequest is the body of PUT /authorize, PUT /call,
// POST /call/accept, and POST /call/decline.
type NicknameRequest struct {
	Nickname string `json:"nickname"`
}

// ResultResponse is the body returned by every mutating endpoint.
type ResultResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
