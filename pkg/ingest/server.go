package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/codeready-toolchain/flowscope/pkg/events"
	"github.com/codeready-toolchain/flowscope/pkg/services"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// Publisher persists and announces a batch of events.
type Publisher interface {
	PublishExecutionEvents(ctx context.Context, workflowID string, batch []events.PendingEvent) ([]int64, error)
}

// Refresher is told about workflows that received events.
type Refresher interface {
	Refresh(workflowID string)
}

// Server implements the EventIngest gRPC service.
type Server struct {
	publisher  Publisher
	refresher  Refresher
	maxBatch   int
	grpcServer *grpc.Server
}

// NewServer creates the gRPC server. refresher may be nil.
func NewServer(publisher Publisher, refresher Refresher, maxBatch int) *Server {
	s := &Server{
		publisher:  publisher,
		refresher:  refresher,
		maxBatch:   maxBatch,
		grpcServer: grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary)),
	}
	s.grpcServer.RegisterService(&ServiceDesc, s)
	return s
}

// Start listens on addr and serves until GracefulStop.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("gRPC ingest listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// GracefulStop stops accepting RPCs and waits for in-flight ones.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Publish implements EventIngestServer.
func (s *Server) Publish(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	workflowID, envs, err := parseRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if len(envs) > s.maxBatch {
		return nil, status.Errorf(codes.InvalidArgument, "at most %d events per request", s.maxBatch)
	}

	batch := make([]events.PendingEvent, len(envs))
	for i, env := range envs {
		ev, err := services.ValidateEnvelope(workflowID, env)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "events[%d]: %v", i, err)
		}
		batch[i] = events.PendingEvent{Envelope: env, RunID: ev.Route.RunID}
	}

	if _, err := s.publisher.PublishExecutionEvents(ctx, workflowID, batch); err != nil {
		slog.Error("Failed to publish ingested events", "workflow_id", workflowID, "error", err)
		return nil, status.Error(codes.Internal, "failed to store events")
	}
	if s.refresher != nil {
		s.refresher.Refresh(workflowID)
	}
	return &emptypb.Empty{}, nil
}

// parseRequest extracts the workflow id and envelopes from a request struct.
func parseRequest(req *structpb.Struct) (string, []timeline.Envelope, error) {
	fields := req.GetFields()

	workflowID := fields["workflow_id"].GetStringValue()
	if workflowID == "" {
		return "", nil, fmt.Errorf("workflow_id is required")
	}

	var items []*structpb.Value
	switch {
	case fields["events"] != nil:
		list := fields["events"].GetListValue()
		if list == nil || len(list.GetValues()) == 0 {
			return "", nil, fmt.Errorf("events must be a non-empty list")
		}
		items = list.GetValues()
	case fields["event"] != nil:
		items = []*structpb.Value{fields["event"]}
	default:
		return "", nil, fmt.Errorf("event or events is required")
	}

	envs := make([]timeline.Envelope, len(items))
	for i, item := range items {
		if item.GetStructValue() == nil {
			return "", nil, fmt.Errorf("events[%d]: must be an object", i)
		}
		raw, err := json.Marshal(item.GetStructValue().AsMap())
		if err != nil {
			return "", nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		if err := json.Unmarshal(raw, &envs[i]); err != nil {
			return "", nil, fmt.Errorf("events[%d]: invalid envelope: %w", i, err)
		}
	}
	return workflowID, envs, nil
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	attrs := []any{
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		slog.Warn("gRPC request failed", append(attrs, "error", err)...)
	} else {
		slog.Debug("gRPC request", attrs...)
	}
	return resp, err
}
