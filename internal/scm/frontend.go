package scm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hdds/pkg/model"
)

// Frontend is the request/response surface datanodes talk to. Each call
// gets its own deadline.
type Frontend struct {
	table        *NodeTable
	registration *RegistrationHandler
	heartbeats   *HeartbeatProcessor
	timeout      time.Duration
	logger       *zap.Logger
	clusterID    string
	managerID    string
}

// GetVersion never fails.
func (f *Frontend) GetVersion(_ context.Context, _ *model.VersionRequest) (*model.VersionResponse, error) {
	return &model.VersionResponse{
		SoftwareVersion:  model.ProtocolVersion,
		ClusterID:        f.clusterID,
		ManagerID:        f.managerID,
		MinLayoutVersion: f.table.LayoutFloor(),
		Keys: map[string]string{
			"clusterID": f.clusterID,
			"scmUuid":   f.managerID,
		},
	}, nil
}

func (f *Frontend) Register(ctx context.Context, req *model.RegisterRequest) (*model.RegistrationAck, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ack, err := f.registration.Register(ctx, req)
	if err != nil {
		err = deadlineToTimeout(ctx, err)
		f.logger.Debug("registration refused",
			zap.String("node", req.Identity.ID), zap.String("address", req.Identity.Address), zap.Error(err))
		return nil, err
	}
	return ack, nil
}

func (f *Frontend) SendHeartbeat(ctx context.Context, req *model.HeartbeatRequest) (*model.HeartbeatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.heartbeats.Process(ctx, req)
	if err != nil {
		return nil, deadlineToTimeout(ctx, err)
	}
	return resp, nil
}

// deadlineToTimeout reports an expired call deadline as ErrTimeout, whatever
// layer noticed it first.
func deadlineToTimeout(ctx context.Context, err error) error {
	if errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	return err
}
