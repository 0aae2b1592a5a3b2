package datanode

import (
	"context"

	"go.uber.org/zap"

	"hdds/pkg/model"
)

// CommandHandler runs one command from the manager. Errors are logged by
// the agent; the command is not retried.
type CommandHandler interface {
	Handle(ctx context.Context, cmd model.Command) error
}

type CommandHandlerFunc func(ctx context.Context, cmd model.Command) error

func (f CommandHandlerFunc) Handle(ctx context.Context, cmd model.Command) error {
	return f(ctx, cmd)
}

// LogHandler only logs commands. Container work is outside the agent.
func LogHandler(logger *zap.Logger) CommandHandler {
	return CommandHandlerFunc(func(_ context.Context, cmd model.Command) error {
		logger.Info("received command",
			zap.String("command", cmd.ID),
			zap.String("type", string(cmd.Type)),
			zap.Any("args", cmd.Args))
		return nil
	})
}
