// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	// ServiceName is the gRPC service implemented by Hillview servers.
	ServiceName = "hillview.Hillview"
	// MaxMessageSize bounds the size of a single message in either
	// direction.
	MaxMessageSize = 20 << 20

	executeMethod = "/" + ServiceName + "/Execute"
)

// A Handler serves Execute calls.
type Handler interface {
	// Execute serves one call. It returns once the response stream
	// has been terminated.
	Execute(stream ServerStream) error
}

// ServerStream is the server side of an Execute call.
type ServerStream interface {
	Context() context.Context
	Send(*Frame) error
	Recv() (*ClientMessage, error)
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(f *Frame) error {
	return s.SendMsg(f)
}

func (s *serverStream) Recv() (*ClientMessage, error) {
	m := new(ClientMessage)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func executeHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(Handler).Execute(&serverStream{stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Execute",
			Handler:       executeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "hillview",
}

// NewServer returns a gRPC server sized for Hillview traffic. The
// provided options are applied after the defaults.
func NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
	}, opts...)
	return grpc.NewServer(opts...)
}

// Register registers h as the Hillview service of s.
func Register(s *grpc.Server, h Handler) {
	s.RegisterService(&serviceDesc, h)
}

// Dial returns a client connection to the Hillview server at addr.
// The connection is established lazily, on the first call.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	}, opts...)
	return grpc.NewClient(addr, opts...)
}

// ClientStream is the client side of an Execute call.
type ClientStream struct {
	cs grpc.ClientStream
}

// Execute starts an Execute call on conn and sends the request. The
// call is torn down when ctx is done.
func Execute(ctx context.Context, conn grpc.ClientConnInterface, req *Request) (*ClientStream, error) {
	cs, err := conn.NewStream(ctx, &serviceDesc.Streams[0], executeMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&ClientMessage{Request: req}); err != nil {
		return nil, err
	}
	return &ClientStream{cs}, nil
}

// Recv receives the next frame of the response stream.
func (c *ClientStream) Recv() (*Frame, error) {
	f := new(Frame)
	if err := c.cs.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Cancel asks the server to cancel the call and half-closes the
// stream.
func (c *ClientStream) Cancel() error {
	err := c.cs.SendMsg(&ClientMessage{Cancel: true})
	if cerr := c.cs.CloseSend(); err == nil {
		err = cerr
	}
	return err
}
