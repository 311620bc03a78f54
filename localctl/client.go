package localctl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ringlink/ringlink/client"
)

// do is ringlinkctl's side of the control plane: it dials the
// socket/pipe fresh for every request and writes a raw HTTP request
// over it (http.NewRequest + Write, then http.ReadResponse on the same
// net.Conn) — no pooling HTTP client for a channel that is never kept
// idle. The JSON response body is decoded into out, which may be nil to
// discard it.
func do(method, path string, body interface{}, out interface{}) error {
	conn, err := Dial()
	if err != nil {
		return fmt.Errorf("ringlinkd is not running: %w", err)
	}
	defer conn.Close()

	var bodyReader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(encoded)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return err
	}
	if err := req.Write(conn); err != nil {
		return err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return fmt.Errorf("ringlinkd read error: %w", err)
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Authorize calls PUT /authorize.
func Authorize(nickname string) (ResultResponse, error) {
	var res ResultResponse
	err := do(http.MethodPut, "/authorize", NicknameRequest{Nickname: nickname}, &res)
	return res, err
}

// Logout calls POST /logout.
func Logout() (ResultResponse, error) {
	var res ResultResponse
	err := do(http.MethodPost, "/logout", nil, &res)
	return res, err
}

// StartCall calls PUT /call.
func StartCall(nickname string) (ResultResponse, error) {
	var res ResultResponse
	err := do(http.MethodPut, "/call", NicknameRequest{Nickname: nickname}, &res)
	return res, err
}

// EndCall calls DELETE /call.
func EndCall() (ResultResponse, error) {
	var res ResultResponse
	err := do(http.MethodDelete, "/call", nil, &res)
	return res, err
}

// AcceptCall calls POST /call/accept.
func AcceptCall(nickname string) (ResultResponse, error) {
	var res ResultResponse
	err := do(http.MethodPost, "/call/accept", NicknameRequest{Nickname: nickname}, &res)
	return res, err
}

// DeclineCall calls POST /call/decline.
func DeclineCall(nickname string) (ResultResponse, error) {
	var res ResultResponse
	err := do(http.MethodPost, "/call/decline", NicknameRequest{Nickname: nickname}, &res)
	return res, err
}

// Status calls GET /status.
func Status() (client.Snapshot, error) {
	var snap client.Snapshot
	err := do(http.MethodGet, "/status", nil, &snap)
	return snap, err
}

// History calls GET /history.
func History() ([]client.HistoryEntry, error) {
	var entries []client.HistoryEntry
	err := do(http.MethodGet, "/history", nil, &entries)
	return entries, err
}

// Events calls GET /events once and returns whatever batch of events
// ringlinkd had queued (possibly after blocking inside its long-poll).
func Events() ([]Event, error) {
	var events []Event
	conn, err := Dial()
	if err != nil {
		return nil, fmt.Errorf("ringlinkd is not running: %w", err)
	}
	defer conn.Close()

	req, err := http.NewRequest(http.MethodGet, "/events", nil)
	if err != nil {
		return nil, err
	}
	if err := req.Write(conn); err != nil {
		return nil, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			break
		}
		events = append(events, e)
	}
	return events, nil
}
