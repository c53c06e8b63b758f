package narrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateEncounterMethod is the unary RPC served by narrator services.
// Request and response are google.protobuf.Struct messages.
const GenerateEncounterMethod = "/narrator.v1.Narrator/GenerateEncounter"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the narrator service client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCNarrator asks a remote narrator service to write encounters.
type GRPCNarrator struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGRPCNarrator connects to the narrator service and waits until it is ready.
func NewGRPCNarrator(cfg GRPCConfig, logger *slog.Logger) (*GRPCNarrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create narrator client for %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint rather than on the first encounter.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("narrator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to narrator service", "address", cfg.Address)
	return &GRPCNarrator{conn: conn, addr: cfg.Address, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Name implements Strategy.
func (g *GRPCNarrator) Name() string { return "grpc" }

// GenerateEncounter implements Strategy.
func (g *GRPCNarrator) GenerateEncounter(ctx context.Context, req Request) (Draft, error) {
	in, err := structpb.NewStruct(map[string]any{
		"npc": map[string]any{
			"name":        req.NPC.Name,
			"description": req.NPC.Description,
			"likes":       toAnySlice(req.NPC.Likes),
			"dislikes":    toAnySlice(req.NPC.Dislikes),
		},
		"choices": float64(2),
	})
	if err != nil {
		return Draft{}, fmt.Errorf("encode request: %w", err)
	}

	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, GenerateEncounterMethod, in, out); err != nil {
		return Draft{}, fmt.Errorf("generate encounter rpc: %w", err)
	}

	raw, err := json.Marshal(out.AsMap())
	if err != nil {
		return Draft{}, fmt.Errorf("decode response: %w", err)
	}
	return ParseDraft(string(raw))
}

// Close closes the gRPC connection.
func (g *GRPCNarrator) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
