package grpcservice

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is the client API for the selection service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func withSelection(ctx context.Context, selection string) context.Context {
	if selection == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, MDSelection, selection)
}

// Copy sets the selection named by selection ("" for the clipboard) to data
// typed as mime.
func (c *Client) Copy(ctx context.Context, selection, mime string, data []byte, opts ...grpc.CallOption) error {
	ctx = withSelection(ctx, selection)
	if mime != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, MDMime, mime)
	}
	return c.cc.Invoke(ctx, copyMethod, wrapperspb.Bytes(data), new(emptypb.Empty), opts...)
}

// Paste returns the selection payload for mime ("" lets the server choose)
// along with the type actually served.
func (c *Client) Paste(ctx context.Context, selection, mime string, opts ...grpc.CallOption) (string, []byte, error) {
	var header metadata.MD
	out := new(wrapperspb.BytesValue)
	opts = append(opts, grpc.Header(&header))
	if err := c.cc.Invoke(withSelection(ctx, selection), pasteMethod, wrapperspb.String(mime), out, opts...); err != nil {
		return "", nil, err
	}
	served := mime
	if vals := header.Get(MDMime); len(vals) > 0 {
		served = vals[0]
	}
	return served, out.GetValue(), nil
}

// Clear withdraws the selection.
func (c *Client) Clear(ctx context.Context, selection string, opts ...grpc.CallOption) error {
	return c.cc.Invoke(withSelection(ctx, selection), clearMethod, new(emptypb.Empty), new(emptypb.Empty), opts...)
}

// Status returns the server's channel and client table.
func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statusMethod, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch streams ownership changes for selection, or for every channel when
// selection is empty.
func (c *Client) Watch(ctx context.Context, selection string, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(withSelection(ctx, selection), &ServiceDesc.Streams[0], watchMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(new(emptypb.Empty)); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Credentials attaches the bearer token and source name to every call.
type Credentials struct {
	Token  string
	Source string
}

func (c *Credentials) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	md := make(map[string]string, 2)
	if c.Token != "" {
		md["authorization"] = "Bearer " + c.Token
	}
	if c.Source != "" {
		md[MDSource] = c.Source
	}
	return md, nil
}

func (c *Credentials) RequireTransportSecurity() bool { return false }
