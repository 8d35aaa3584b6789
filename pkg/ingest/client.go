package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
	"github.com/codeready-toolchain/flowscope/pkg/version"
)

// Client publishes events to an EventIngest server.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client for addr. Dialing is lazy.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent(version.Full()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ingest service at %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Publish sends envelopes for one workflow in a single request.
func (c *Client) Publish(ctx context.Context, workflowID string, envs ...timeline.Envelope) error {
	req, err := BuildRequest(workflowID, envs...)
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, publishMethod, req, new(emptypb.Empty))
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// BuildRequest encodes envelopes into the Publish request struct.
func BuildRequest(workflowID string, envs ...timeline.Envelope) (*structpb.Struct, error) {
	items := make([]any, len(envs))
	for i, env := range envs {
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		items[i] = m
	}
	return structpb.NewStruct(map[string]any{
		"workflow_id": workflowID,
		"events":      items,
	})
}
