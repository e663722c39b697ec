// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package testutils // import "github.com/orbit-profiler/orbit/testutils"

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/orbit-profiler/orbit/grpcprotos"
)

// CaptureHandler plays the capture service for one stream, after the request was read.
type CaptureHandler func(stream grpc.ServerStream) error

type captureService interface {
	capture(stream grpc.ServerStream) error
}

// FakeCaptureService records capture requests and hands each stream to a handler.
type FakeCaptureService struct {
	handler CaptureHandler

	mu       sync.Mutex
	requests []*grpcprotos.CaptureRequest
}

func (s *FakeCaptureService) capture(stream grpc.ServerStream) error {
	request := &grpcprotos.CaptureRequest{}
	if err := stream.RecvMsg(request); err != nil {
		return err
	}
	s.mu.Lock()
	s.requests = append(s.requests, request)
	s.mu.Unlock()
	return s.handler(stream)
}

// ReceivedRequests returns the requests of all streams so far.
func (s *FakeCaptureService) ReceivedRequests() []*grpcprotos.CaptureRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*grpcprotos.CaptureRequest(nil), s.requests...)
}

var fakeCaptureServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcprotos.CaptureServiceName,
	HandlerType: (*captureService)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName: "Capture",
		Handler: func(srv any, stream grpc.ServerStream) error {
			return srv.(captureService).capture(stream)
		},
		ServerStreams: true,
		ClientStreams: true,
	}},
}

// StartFakeCaptureService serves handler over an in-memory listener and returns a
// connection to it. Both are shut down when the test ends.
func StartFakeCaptureService(t *testing.T, handler CaptureHandler) (*FakeCaptureService,
	*grpc.ClientConn) {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	service := &FakeCaptureService{handler: handler}
	server := grpc.NewServer(grpc.ForceServerCodec(grpcprotos.Codec{}))
	server.RegisterService(&fakeCaptureServiceDesc, service)
	go func() {
		_ = server.Serve(listener)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return service, conn
}

// SendEvents sends events as one CaptureResponse.
func SendEvents(stream grpc.ServerStream, events ...grpcprotos.Event) error {
	response := &grpcprotos.CaptureResponse{}
	for _, event := range events {
		response.CaptureEvents = append(response.CaptureEvents,
			&grpcprotos.CaptureEvent{Event: event})
	}
	return stream.SendMsg(response)
}

// WaitForHalfClose blocks until the client closed its side of the stream.
func WaitForHalfClose(stream grpc.ServerStream) error {
	for {
		err := stream.RecvMsg(&grpcprotos.CaptureRequest{})
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
