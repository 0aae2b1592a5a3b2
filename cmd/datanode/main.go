package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"hdds/internal/config"
	"hdds/internal/datanode"
	"hdds/internal/logging"
	"hdds/internal/rpc"
	"hdds/pkg/model"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	nodeID := flag.String("id", "", "Node id; assigned by the scm when empty")
	flag.Parse()

	// 1. config and logger
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "datanode: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "datanode: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "datanode"
	}

	// 2. scm client
	client, err := rpc.Dial(cfg.Datanode.SCMAddress)
	if err != nil {
		logger.Fatal("failed to create scm client", zap.String("scm", cfg.Datanode.SCMAddress), zap.Error(err))
	}
	defer client.Close()

	// 3. agent; the id assigned at first registration is kept under the data dir
	agent := datanode.NewAgent(client, datanode.Options{
		Identity: model.NodeIdentity{
			ID:       *nodeID,
			HostName: hostname,
			Address:  cfg.Datanode.Address,
			Version:  fmt.Sprintf("v%d", model.ProtocolVersion),
		},
		IDFile:            filepath.Join(cfg.Datanode.DataDir, datanode.IDFileName),
		Layout:            cfg.Datanode.Layout,
		HeartbeatInterval: cfg.Datanode.HeartbeatInterval,
		MaxRetryBackoff:   cfg.Datanode.MaxRetryBackoff,
		Reports:           datanode.NewDirReports(cfg.Datanode.DataDir),
		Logger:            logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	// 4. graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down datanode")
	cancel()
	<-done
}
