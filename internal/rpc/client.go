package rpc

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"hdds/pkg/model"
)

// Client talks to a manager. Errors carrying a manager status match the
// scm sentinels with errors.Is.
type Client struct {
	conn *grpc.ClientConn
}

var _ DatanodeProtocolServer = (*Client)(nil)

// Dial connects to target without TLS. Extra options are applied last.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", target)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) GetVersion(ctx context.Context, req *model.VersionRequest) (*model.VersionResponse, error) {
	resp := new(model.VersionResponse)
	if err := c.invoke(ctx, methodGetVersion, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Register(ctx context.Context, req *model.RegisterRequest) (*model.RegistrationAck, error) {
	resp := new(model.RegistrationAck)
	if err := c.invoke(ctx, methodRegister, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) SendHeartbeat(ctx context.Context, req *model.HeartbeatRequest) (*model.HeartbeatResponse, error) {
	resp := new(model.HeartbeatResponse)
	if err := c.invoke(ctx, methodSendHeartbeat, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if err := c.conn.Invoke(ctx, method, in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return fromStatus(err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
