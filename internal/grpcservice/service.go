// Package grpcservice implements the SelectionService gRPC server, its
// client, and the HTTP/JSON routes served next to it.
package grpcservice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"go.klb.dev/wlsel/internal/compositor"
	"go.klb.dev/wlsel/internal/mimestore"
	"go.klb.dev/wlsel/internal/pipe"
	"go.klb.dev/wlsel/internal/selection"
)

// Metadata keys carrying call parameters.
const (
	MDSource    = "x-wlsel-source"
	MDSelection = "x-wlsel-selection"
	MDMime      = "x-wlsel-mime"
)

// Service implements SelectionServer on top of a compositor. Every distinct
// source name gets its own compositor client, so a selection copied by one
// caller is served to the others through the compositor's pipes.
type Service struct {
	comp  *compositor.Compositor
	token string // empty = no auth

	mu      sync.Mutex
	clients map[string]*compositor.Client
}

// New returns a Service backed by comp. token may be empty to disable auth.
func New(comp *compositor.Compositor, token string) *Service {
	return &Service{
		comp:    comp,
		token:   token,
		clients: make(map[string]*compositor.Client),
	}
}

// Close disconnects every client the service created, releasing their
// selections.
func (s *Service) Close() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[string]*compositor.Client)
	s.mu.Unlock()

	for _, cl := range clients {
		cl.Close()
	}
}

func (s *Service) client(source string) *compositor.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.clients[source]
	if !ok {
		cl = s.comp.Connect(source)
		s.clients[source] = cl
	}
	return cl
}

// Copy implements SelectionServer.Copy.
func (s *Service) Copy(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	kind, err := kindFromCtx(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	mime := mimeFromCtx(ctx)
	if mime == "" {
		mime = mimestore.TextPlainUTF8
	}
	item := compositor.Item{Mime: mime, Data: in.GetValue()}
	if err := s.copy(ctx, sourceFromCtx(ctx, ""), kind, item); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) copy(ctx context.Context, source string, kind compositor.Kind, items ...compositor.Item) error {
	cl := s.client(source)
	if _, err := cl.Input(ctx); err != nil {
		return err
	}
	return cl.Copy(ctx, kind, items)
}

// Paste implements SelectionServer.Paste.
func (s *Service) Paste(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	kind, err := kindFromCtx(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	it, err := s.paste(ctx, sourceFromCtx(ctx, ""), kind, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	if err := grpc.SetHeader(ctx, metadata.Pairs(MDMime, it.Mime)); err != nil {
		slog.Debug("paste: set header failed", "err", err)
	}
	return wrapperspb.Bytes(it.Data), nil
}

func (s *Service) paste(ctx context.Context, source string, kind compositor.Kind, mime string) (compositor.Item, error) {
	return s.client(source).Paste(ctx, kind, mime)
}

// Clear implements SelectionServer.Clear. It withdraws the selection
// whoever owns it.
func (s *Service) Clear(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	kind, err := kindFromCtx(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.comp.Clear(kind); err != nil {
		return nil, toStatus(err)
	}
	slog.Info("selection cleared by request", "kind", kind, "source", sourceFromCtx(ctx, ""))
	return &emptypb.Empty{}, nil
}

// Status implements SelectionServer.Status.
func (s *Service) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	st, err := s.status()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return st, nil
}

func (s *Service) status() (*structpb.Struct, error) {
	var channels []any
	for _, ch := range s.comp.Snapshot() {
		m := map[string]any{
			"kind":   ch.Kind.String(),
			"owner":  ch.Owner,
			"source": ch.Source,
			"types":  stringList(ch.Types),
			"serial": ch.Serial,
		}
		if !ch.Since.IsZero() {
			m["since"] = ch.Since.UTC().Format(time.RFC3339Nano)
		}
		channels = append(channels, m)
	}

	var clients []any
	for _, cl := range s.comp.Clients() {
		clients = append(clients, map[string]any{
			"id":           cl.ID,
			"name":         cl.Name,
			"connected_at": cl.ConnectedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	return structpb.NewStruct(map[string]any{
		"serial":   s.comp.Serial(),
		"channels": channels,
		"clients":  clients,
	})
}

// Watch implements SelectionServer.Watch. Without MDSelection every channel
// is reported.
func (s *Service) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	if err := s.auth(ctx); err != nil {
		return err
	}

	filter := -1
	if md, ok := metadata.FromIncomingContext(ctx); ok && len(md.Get(MDSelection)) > 0 {
		kind, err := compositor.ParseKind(md.Get(MDSelection)[0])
		if err != nil {
			return toStatus(err)
		}
		filter = int(kind)
	}

	events, stop := s.comp.Subscribe(16)
	defer stop()

	slog.Info("watch started", "source", sourceFromCtx(ctx, ""), "addr", addrFromCtx(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if filter >= 0 && int(ev.Kind) != filter {
				continue
			}
			msg, err := eventStruct(ev)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func eventStruct(ev compositor.Event) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"kind":   ev.Kind.String(),
		"owner":  ev.Owner,
		"types":  stringList(ev.Types),
		"serial": ev.Serial,
		"at":     ev.At.UTC().Format(time.RFC3339Nano),
	})
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// auth validates the bearer token in ctx metadata. Skipped when s.token is
// empty and for callers on a Unix socket, whose file mode already restricts
// access.
func (s *Service) auth(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil && p.Addr.Network() == "unix" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	const prefix = "Bearer "
	tok := vals[0]
	if len(tok) > len(prefix) && tok[:len(prefix)] == prefix {
		tok = tok[len(prefix):]
	}
	if tok != s.token {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

// toStatus maps package errors onto gRPC status codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, selection.ErrUnknownType), errors.Is(err, compositor.ErrEmpty):
		code = codes.NotFound
	case errors.Is(err, selection.ErrNoData):
		code = codes.FailedPrecondition
	case errors.Is(err, compositor.ErrUnknownKind):
		code = codes.InvalidArgument
	case errors.Is(err, pipe.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, pipe.ErrTooLarge):
		code = codes.ResourceExhausted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, selection.ErrInvalidHandle), errors.Is(err, compositor.ErrClosed):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

func kindFromCtx(ctx context.Context) (compositor.Kind, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(MDSelection); len(vals) > 0 {
			return compositor.ParseKind(vals[0])
		}
	}
	return compositor.Clipboard, nil
}

func mimeFromCtx(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(MDMime); len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

func sourceFromCtx(ctx context.Context, fallback string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(MDSource); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	if fallback != "" {
		return fallback
	}
	return addrFromCtx(ctx)
}

func addrFromCtx(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}
