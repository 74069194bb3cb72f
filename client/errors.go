package client

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNodeAlreadyConnected = errors.New("node already connected")
	ErrNodeNotConnected     = errors.New("node not connected")
	ErrNoNodesAvailable     = errors.New("no node connected")
	ErrVoiceClientNotFound  = errors.New("voice client not found")
	ErrAlreadyOnNode        = errors.New("already connected to this node")
	ErrChannelNotFound      = errors.New("voice channel not resolvable")
	ErrQueryTimeout         = errors.New("query timed out")
	ErrSubtitleQuery        = errors.New("either lang or url is needed")
)

// RemoteError carries the traceback a node reports when a command failed on
// its side. A payload with a traceback is always an error, regardless of how
// the transport layer reported the exchange.
type RemoteError struct {
	Traceback map[string]string
}

func (e *RemoteError) Error() string {
	lines := make([]string, 0, len(e.Traceback))
	for k, v := range e.Traceback {
		lines = append(lines, k+": "+v)
	}
	sort.Strings(lines)
	return "remote execution failed: " + strings.Join(lines, "; ")
}

// StatusError is a non-2xx REST response, carrying the decoded body.
type StatusError struct {
	Code int
	Body any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("node returned status %d: %v", e.Code, e.Body)
}
