// Package relay defines the surface this daemon consumes from the agent
// relay: resolving file metadata on a remote agent and streaming its
// contents. Deployments without agents use NopClient.
package relay

import (
	"context"
	"errors"
	"io"
)

// ErrAgentUnavailable is returned when the named agent is not connected or
// the deployment has no relay at all.
var ErrAgentUnavailable = errors.New("relay: agent unavailable")

// Client is the relay operation set the upload service drives for files
// hosted on remote agents.
type Client interface {
	// FileInfo reports whether filename exists on the named agent and, if
	// so, its size in bytes.
	FileInfo(ctx context.Context, agent, filename string) (exists bool, size int64, err error)

	// FileStream opens a read stream for filename on the named agent,
	// positioned at offset. The id correlates the stream with a transfer so
	// it can be closed out of band.
	FileStream(ctx context.Context, agent, filename string, offset int64, id string) (io.ReadCloser, error)

	// CloseStream tells the agent to tear down the stream registered under
	// id, reporting err as the reason when non-nil. Best effort.
	CloseStream(agent, id string, err error)
}

// NopClient is a Client for agentless deployments: every file is reported
// absent and every stream request fails.
type NopClient struct{}

var _ Client = NopClient{}

func (NopClient) FileInfo(context.Context, string, string) (bool, int64, error) {
	return false, 0, nil
}

func (NopClient) FileStream(context.Context, string, string, int64, string) (io.ReadCloser, error) {
	return nil, ErrAgentUnavailable
}

func (NopClient) CloseStream(string, string, error) {}
