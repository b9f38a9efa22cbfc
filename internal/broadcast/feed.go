package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	feedServiceName = "fortune.broadcast.v1.Feed"
	feedMethod      = "/" + feedServiceName + "/Subscribe"
	feedBuffer      = 256
)

// FeedService is the server side of the replica feed.
type FeedService interface {
	Subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

// feedServiceDesc describes a single server-streaming method. Requests and
// messages travel as google.protobuf.Struct on the default proto codec:
// the request carries {"since": <seq>}, each response is one Message.
var feedServiceDesc = grpc.ServiceDesc{
	ServiceName: feedServiceName,
	HandlerType: (*FeedService)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "fortune/broadcast/v1/feed.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(FeedService).Subscribe(req, stream)
}

// RegisterFeedService registers svc on s.
func RegisterFeedService(s grpc.ServiceRegistrar, svc FeedService) {
	s.RegisterService(&feedServiceDesc, svc)
}

// FeedServer streams a Stream to replica hosts.
type FeedServer struct {
	stream *Stream
	logger *zap.Logger
}

var _ FeedService = (*FeedServer)(nil)

// NewFeedServer creates a FeedServer over stream.
//
// Precondition: stream and logger must be non-nil.
func NewFeedServer(stream *Stream, logger *zap.Logger) *FeedServer {
	return &FeedServer{stream: stream, logger: logger}
}

// Subscribe sends the replay for the requested position, then live messages
// until the client goes away.
//
// Postcondition: Returns codes.ResourceExhausted when the replica fell
// behind and was dropped.
func (f *FeedServer) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	var since uint64
	if v, ok := req.GetFields()["since"]; ok {
		n := v.GetNumberValue()
		if n < 0 {
			return status.Error(codes.InvalidArgument, "since must be >= 0")
		}
		since = uint64(n)
	}

	replay, messages, cancel := f.stream.Subscribe(since, feedBuffer)
	defer cancel()
	f.logger.Info("replica subscribed", zap.Uint64("since", since), zap.Int("replay", len(replay)))

	for _, m := range replay {
		if err := sendMessage(stream, m); err != nil {
			return err
		}
	}
	ctx := stream.Context()
	for {
		select {
		case m, ok := <-messages:
			if !ok {
				return status.Error(codes.ResourceExhausted, "subscriber fell behind; resubscribe")
			}
			if err := sendMessage(stream, m); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func sendMessage(stream grpc.ServerStream, m Message) error {
	st, err := ToStruct(m)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(st)
}

// ToStruct converts m to its protobuf Struct form.
func ToStruct(m Message) (*structpb.Struct, error) {
	data, err := Encode(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message %d: %w", m.Seq, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("flattening message %d: %w", m.Seq, err)
	}
	return structpb.NewStruct(fields)
}

// FromStruct converts a protobuf Struct back into a validated Message.
func FromStruct(st *structpb.Struct) (Message, error) {
	data, err := json.Marshal(st.AsMap())
	if err != nil {
		return Message{}, fmt.Errorf("encoding struct: %w", err)
	}
	return Decode(data)
}

// FeedSubscription is the client side of one feed stream.
type FeedSubscription struct {
	stream grpc.ClientStream
}

// SubscribeFeed opens a feed stream on conn resuming after since.
func SubscribeFeed(ctx context.Context, conn grpc.ClientConnInterface, since uint64) (*FeedSubscription, error) {
	stream, err := conn.NewStream(ctx, &feedServiceDesc.Streams[0], feedMethod)
	if err != nil {
		return nil, fmt.Errorf("opening feed: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{"since": float64(since)})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("sending feed request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("closing feed request: %w", err)
	}
	return &FeedSubscription{stream: stream}, nil
}

// Recv blocks for the next message. io.EOF marks a clean end of stream.
func (f *FeedSubscription) Recv() (Message, error) {
	st := new(structpb.Struct)
	if err := f.stream.RecvMsg(st); err != nil {
		return Message{}, err
	}
	return FromStruct(st)
}

// Relay consumes the producer's feed and hands each message to apply in
// order, reconnecting with backoff and resuming after the last applied
// sequence number. When the producer can no longer resume from that point it
// replays current state, which apply must accept again. Relay returns when
// ctx is done or apply fails.
func Relay(ctx context.Context, conn grpc.ClientConnInterface, logger *zap.Logger, apply func(Message) error) error {
	var last uint64
	backoff := 250 * time.Millisecond
	const maxBackoff = 10 * time.Second
	for {
		sub, err := SubscribeFeed(ctx, conn, last)
		if err == nil {
			for {
				var m Message
				m, err = sub.Recv()
				if err != nil {
					break
				}
				backoff = 250 * time.Millisecond
				if applyErr := apply(m); applyErr != nil {
					return fmt.Errorf("applying message %d: %w", m.Seq, applyErr)
				}
				last = m.Seq
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) {
			logger.Info("feed ended; resubscribing", zap.Uint64("last_seq", last))
		} else {
			logger.Warn("feed interrupted", zap.Uint64("last_seq", last), zap.Error(err))
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
