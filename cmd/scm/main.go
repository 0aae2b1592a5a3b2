package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"hdds/internal/config"
	"hdds/internal/logging"
	"hdds/internal/rpc"
	"hdds/internal/scm"
	"hdds/pkg/model"
	"hdds/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	listen := flag.String("listen", "", "Override scm.listen_address")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "scm: %v\n", err)
			os.Exit(1)
		}
	}
	if *listen != "" {
		cfg.SCM.ListenAddress = *listen
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scm: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 1. durable store
	st, err := store.Open(cfg.Store, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to open store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer st.Close()

	// 2. manager
	mgr, err := scm.New(scm.Options{
		Config:    cfg.SCM,
		ClusterID: cfg.ClusterID,
		Store:     st,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to create scm", zap.Error(err))
	}
	mgr.Liveness().OnStateChange(func(c scm.StateChange) {
		if c.Current == model.NodeDead {
			logger.Warn("datanode lost, its commands stay queued until it registers again",
				zap.String("node", c.NodeID), zap.Int("queued", mgr.Queue().Len(c.NodeID)))
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		logger.Fatal("failed to start scm", zap.Error(err))
	}

	// 3. datanode protocol server
	lis, err := net.Listen("tcp", cfg.SCM.ListenAddress)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("address", cfg.SCM.ListenAddress), zap.Error(err))
	}
	server := rpc.NewServer(mgr.Frontend(), logger.Named("rpc"))
	go func() {
		logger.Info("serving datanode protocol",
			zap.String("address", lis.Addr().String()), zap.String("cluster", cfg.ClusterID), zap.String("scm", mgr.ManagerID()))
		if err := server.Serve(lis); err != nil {
			logger.Error("server stopped", zap.Error(err))
			cancel()
		}
	}()

	// 4. graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down scm")
	server.GracefulStop()
	mgr.Stop()
}
