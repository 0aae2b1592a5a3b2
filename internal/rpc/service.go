// Package rpc exposes the datanode protocol over gRPC.
package rpc

import (
	"context"

	"google.golang.org/grpc"

	"hdds/pkg/model"
)

const ServiceName = "hdds.StorageContainerDatanodeProtocol"

const (
	methodGetVersion    = "/" + ServiceName + "/GetVersion"
	methodRegister      = "/" + ServiceName + "/Register"
	methodSendHeartbeat = "/" + ServiceName + "/SendHeartbeat"
)

// DatanodeProtocolServer is implemented by the manager frontend.
type DatanodeProtocolServer interface {
	GetVersion(context.Context, *model.VersionRequest) (*model.VersionResponse, error)
	Register(context.Context, *model.RegisterRequest) (*model.RegistrationAck, error)
	SendHeartbeat(context.Context, *model.HeartbeatRequest) (*model.HeartbeatResponse, error)
}

// RegisterServer attaches srv to s.
func RegisterServer(s grpc.ServiceRegistrar, srv DatanodeProtocolServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DatanodeProtocolServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetVersion", Handler: getVersionHandler},
		{MethodName: "Register", Handler: registerHandler},
		{MethodName: "SendHeartbeat", Handler: sendHeartbeatHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hdds/datanode_protocol",
}

func getVersionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(model.VersionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatanodeProtocolServer).GetVersion(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetVersion}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DatanodeProtocolServer).GetVersion(ctx, req.(*model.VersionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func registerHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(model.RegisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatanodeProtocolServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRegister}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DatanodeProtocolServer).Register(ctx, req.(*model.RegisterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func sendHeartbeatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(model.HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatanodeProtocolServer).SendHeartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSendHeartbeat}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DatanodeProtocolServer).SendHeartbeat(ctx, req.(*model.HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}
