package scm

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hdds/pkg/model"
	"hdds/pkg/store"
)

// CommandDispatcher moves commands submitted to the store into node queues.
// A command leaves the store only once it is queued; when a queue is full or
// the node is unknown it stays and is retried on the next pass.
type CommandDispatcher struct {
	store    store.Store
	queue    *CommandQueue
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
}

// Run dispatches on start, on every tick and whenever the store reports a
// new submission, until ctx is done.
func (d *CommandDispatcher) Run(ctx context.Context) {
	var events <-chan store.CommandEvent
	if w, ok := d.store.(store.Watcher); ok {
		events = w.WatchCommands(ctx)
	}
	ticker := d.clock.Ticker(d.interval)
	defer ticker.Stop()

	d.logger.Info("command dispatcher started", zap.Duration("interval", d.interval), zap.Bool("watching", events != nil))
	d.DispatchPending(ctx)

	for {
		select {
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// the event is only a trigger; the listing is the source of truth
			d.DispatchPending(ctx)
		case <-ticker.C:
			d.DispatchPending(ctx)
		case <-ctx.Done():
			d.logger.Info("command dispatcher stopped")
			return
		}
	}
}

// DispatchPending makes one pass over the submitted commands and returns how
// many were queued.
func (d *CommandDispatcher) DispatchPending(ctx context.Context) int {
	cmds, err := d.store.ListCommands(ctx)
	if err != nil {
		d.logger.Error("failed to list submitted commands", zap.Error(err))
		return 0
	}

	queued := 0
	// once a node refuses a command, later ones for it wait too, keeping FIFO order
	blocked := make(map[string]bool)
	for _, cmd := range cmds {
		if blocked[cmd.NodeID] {
			continue
		}
		ok, err := d.dispatch(ctx, cmd)
		if err != nil {
			blocked[cmd.NodeID] = true
			continue
		}
		if ok {
			queued++
		}
	}
	return queued
}

// dispatch reports whether cmd was queued. A command it had to drop is
// neither queued nor an error.
func (d *CommandDispatcher) dispatch(ctx context.Context, cmd *model.Command) (bool, error) {
	logger := d.logger.With(zap.String("node", cmd.NodeID), zap.String("command", cmd.ID))

	// 1. unknown types never become deliverable
	if !cmd.Type.Valid() {
		logger.Error("dropping command of unknown type", zap.String("type", string(cmd.Type)))
		if err := d.store.DeleteCommand(ctx, cmd); err != nil {
			logger.Warn("failed to delete command", zap.Error(err))
		}
		return false, nil
	}

	// 2. queue in memory
	if _, err := d.queue.Enqueue(cmd.NodeID, *cmd); err != nil {
		switch {
		case errors.Is(err, ErrQueueFull):
			logger.Warn("node queue full, command stays submitted")
		case errors.Is(err, ErrUnregisteredNode):
			logger.Warn("command for unknown node stays submitted")
		default:
			logger.Error("failed to queue command", zap.Error(err))
		}
		return false, err
	}
	// 3. only then drop the durable submission
	if err := d.store.DeleteCommand(ctx, cmd); err != nil {
		// queueing is idempotent by id, so the next pass cannot double it while it is queued
		logger.Warn("queued command could not be removed from the store", zap.Error(err))
	}
	logger.Debug("command queued", zap.String("type", string(cmd.Type)))
	return true, nil
}
