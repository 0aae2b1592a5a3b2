package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
)

// NewServer returns a gRPC server serving srv, with error mapping and call
// logging installed.
func NewServer(srv DatanodeProtocolServer, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(LoggingInterceptor(logger), ErrorInterceptor()))
	s := grpc.NewServer(opts...)
	RegisterServer(s, srv)
	return s
}

// ErrorInterceptor maps manager errors to status codes.
func ErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return nil, toStatus(err)
		}
		return resp, nil
	}
}

func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("elapsed", time.Since(start)),
		}
		if p, ok := peer.FromContext(ctx); ok {
			fields = append(fields, zap.Stringer("peer", p.Addr))
		}
		if err != nil {
			logger.Debug("call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("call served", fields...)
		}
		return resp, err
	}
}
