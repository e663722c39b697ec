// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package captureclient // import "github.com/orbit-profiler/orbit/captureclient"

import (
	"context"
	"crypto/tls"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/orbit-profiler/orbit/vc"
)

// DialConfig configures the connection to a capture service.
type DialConfig struct {
	// Address is host:port of the capture service.
	Address string
	// DisableTLS uses a plaintext connection.
	DisableTLS bool
	// MaxRPCMsgSize limits the size of a single CaptureResponse.
	MaxRPCMsgSize int
	// ConnectionTimeout bounds a single connection attempt.
	ConnectionTimeout time.Duration
	// MaxRetries is the number of additional attempts after a failed one.
	MaxRetries uint32
	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration
	// ExtraOptions are appended to the default dial options.
	ExtraOptions []grpc.DialOption
}

func dialOptions(c *DialConfig) []grpc.DialOption {
	opts := []grpc.DialOption{grpc.WithBlock(),
		grpc.WithUserAgent(vc.UserAgent()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(c.MaxRPCMsgSize),
			grpc.MaxCallSendMsgSize(c.MaxRPCMsgSize)),
		grpc.WithReturnConnectionError(),
	}

	if c.DisableTLS {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts,
			grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
				// Support only TLS1.3+ with valid CA certificates
				MinVersion:         tls.VersionTLS13,
				InsecureSkipVerify: false,
			})))
	}
	return append(opts, c.ExtraOptions...)
}

func setupGrpcConnection(parent context.Context, c *DialConfig) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(parent, c.ConnectionTimeout)
	defer cancel()
	//nolint:staticcheck
	return grpc.DialContext(ctx, c.Address, dialOptions(c)...)
}

// Dial connects to the capture service, retrying failed attempts as configured.
func Dial(ctx context.Context, c *DialConfig) (*grpc.ClientConn, error) {
	backoff := c.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	tick := time.NewTicker(backoff)
	defer tick.Stop()

	var retries uint32
	for {
		conn, err := setupGrpcConnection(ctx, c)
		if err == nil {
			return conn, nil
		}
		if retries >= c.MaxRetries {
			return nil, err
		}
		retries++

		log.Warnf("Failed to connect to capture service %s (try %d of %d): %v",
			c.Address, retries, c.MaxRetries, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick.C:
		}
	}
}
