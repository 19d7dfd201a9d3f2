package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The feed service carries snapshots as google.protobuf.Struct, so it needs
// no generated code:
//
//	service IndexFeed {
//	  rpc Watch(google.protobuf.Empty) returns (stream google.protobuf.Struct);
//	}
const (
	ServiceName = "capindex.v1.IndexFeed"
	watchMethod = "/" + ServiceName + "/Watch"
)

// IndexFeedServer is the server API for the IndexFeed service.
type IndexFeedServer interface {
	Watch(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

var indexFeedServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IndexFeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "capindex/v1/feed.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(IndexFeedServer).Watch(m, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// GRPCServer implements the Watch streaming endpoint.
type GRPCServer struct {
	hub *Hub
	log *slog.Logger
}

var _ IndexFeedServer = (*GRPCServer)(nil)

// NewGRPCServer creates a gRPC server backed by the given Hub.
func NewGRPCServer(hub *Hub, log *slog.Logger) *GRPCServer {
	if log == nil {
		log = slog.Default()
	}
	return &GRPCServer{hub: hub, log: log.With("component", "grpc")}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *GRPCServer) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&indexFeedServiceDesc, s)
}

// Serve runs a gRPC server on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	s.RegisterGRPC(gs)

	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()

	s.log.Info("grpc listening", "addr", lis.Addr().String())
	if err := gs.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Watch sends the latest snapshot, then streams new snapshots as they
// arrive. The stream ends when the client disconnects.
func (s *GRPCServer) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	subID, ch := s.hub.Subscribe(256)
	defer s.hub.Unsubscribe(subID)

	if snap, ok := s.hub.Latest(); ok {
		msg, err := snapshotToStruct(snap)
		if err != nil {
			return err
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}

	s.log.Info("grpc client subscribed", "subID", subID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := snapshotToStruct(snap)
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client connects to an IndexFeed server.
type Client struct {
	addr string
	opts []grpc.DialOption
	log  *slog.Logger
}

// NewClient creates a client targeting addr. Without options the connection
// is plaintext.
func NewClient(addr string, log *slog.Logger, opts ...grpc.DialOption) *Client {
	if log == nil {
		log = slog.Default()
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Client{addr: addr, opts: opts, log: log}
}

// Watch streams snapshots to fn until ctx is cancelled, the stream ends, or
// fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(Snapshot) error) error {
	conn, err := grpc.NewClient(c.addr, c.opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	desc := &indexFeedServiceDesc.Streams[0]
	stream, err := conn.NewStream(ctx, desc, watchMethod)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}

	c.log.Info("connected to index feed", "addr", c.addr)

	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving snapshot: %w", err)
		}
		snap, err := snapshotFromStruct(msg)
		if err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Struct conversion
// ---------------------------------------------------------------------------

func snapshotToStruct(s Snapshot) (*structpb.Struct, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	msg := new(structpb.Struct)
	if err := protojson.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("converting snapshot: %w", err)
	}
	return msg, nil
}

func snapshotFromStruct(msg *structpb.Struct) (Snapshot, error) {
	b, err := protojson.Marshal(msg)
	if err != nil {
		return Snapshot{}, fmt.Errorf("converting snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return s, nil
}
