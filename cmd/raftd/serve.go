package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/raftd/internal/config"
	"github.com/KilimcininKorOglu/raftd/internal/logging"
	"github.com/KilimcininKorOglu/raftd/internal/membership"
	"github.com/KilimcininKorOglu/raftd/internal/raft"
	"github.com/KilimcininKorOglu/raftd/internal/rest"
	"github.com/KilimcininKorOglu/raftd/internal/rpc"
	"github.com/KilimcininKorOglu/raftd/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// Server errors.
var (
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrServerNotRunning     = errors.New("server is not running")
)

// addressedConnector is a connector that can report its bound address.
type addressedConnector interface {
	raft.Connector
	LocalAddr() string
}

// RaftServer wires a raft node to its storage, transport and optional
// membership and REST surfaces.
type RaftServer struct {
	config    *config.Config
	logger    logging.Logger
	nodeCtx   *raft.NodeContext
	node      *raft.Node
	connector addressedConnector
	serf      *membership.SerfSource
	rest      *rest.Server

	mu      sync.Mutex
	running bool
}

// NewServer opens the node's data directory and builds every component
// without starting any of them.
func NewServer(cfg *config.Config) (*RaftServer, error) {
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	return newServer(cfg, logger)
}

func newServer(cfg *config.Config, logger logging.Logger) (*RaftServer, error) {
	self := raft.NodeID(cfg.Node.ID)

	if err := os.MkdirAll(cfg.Node.DataDir, 0750); err != nil {
		return nil, errors.Wrapf(err, "create data directory %s", cfg.Node.DataDir)
	}

	store, err := storage.OpenFileNodeStore(cfg.Node.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, "open node store")
	}
	log, err := storage.OpenFileLog(filepath.Join(cfg.Node.DataDir, storage.LogFileName))
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "open log")
	}
	if n := log.Truncated(); n > 0 {
		logger.Warn("discarded damaged log tail", "bytes", n, "path", log.Path())
	}

	nodeCfg := cfg.Timing.NodeConfig()
	scheduler, err := raft.NewDefaultScheduler(nodeCfg)
	if err != nil {
		log.Close()
		store.Close()
		return nil, errors.Wrap(err, "create scheduler")
	}

	connector := newConnector(cfg)

	nodeCtx := &raft.NodeContext{
		SelfID:      self,
		Group:       newGroup(self, cfg.Cluster.Peers, log.NextIndex()),
		Store:       store,
		Log:         log,
		Scheduler:   scheduler,
		Connector:   connector,
		Logger:      logger.WithComponent("raft").WithFields("node", cfg.Node.ID),
		StandbyMode: cfg.Node.Standby,
	}

	node, err := raft.NewNode(nodeCtx, nodeCfg, newLogStateMachine(logger.WithComponent("fsm")))
	if err != nil {
		nodeCtx.Release()
		return nil, errors.Wrap(err, "create raft node")
	}

	srv := &RaftServer{
		config:    cfg,
		logger:    logger,
		nodeCtx:   nodeCtx,
		node:      node,
		connector: connector,
	}

	if cfg.Membership.Enabled {
		srv.serf, err = membership.NewSerfSource(membership.Config{
			NodeID:   self,
			RaftAddr: cfg.Node.Address,
			Voting:   !cfg.Node.Standby,
			BindAddr: cfg.Membership.BindAddr,
			BindPort: cfg.Membership.BindPort,
			Join:     cfg.Membership.Join,
			Logger:   logger.WithComponent("membership"),
		}, node)
		if err != nil {
			nodeCtx.Release()
			return nil, errors.Wrap(err, "create membership")
		}
	}

	if cfg.REST.Enabled {
		restCfg := rest.DefaultServerConfig()
		restCfg.Address = cfg.REST.Address
		srv.rest = rest.NewServer(restCfg, node, logger)
	}

	return srv, nil
}

func newConnector(cfg *config.Config) addressedConnector {
	if cfg.Transport.Kind == config.TransportGRPC {
		c := rpc.NewGRPCConnector(cfg.Node.Address)
		if cfg.Transport.DialTimeout > 0 {
			c.SetCallTimeout(cfg.Transport.DialTimeout)
		}
		return c
	}
	c := raft.NewTCPConnector(cfg.Node.Address)
	if cfg.Transport.DialTimeout > 0 {
		c.SetTimeout(cfg.Transport.DialTimeout)
	}
	return c
}

// newGroup builds the initial group. Voting peers form the group itself;
// non-voting peers are added with replication starting at nextIndex.
func newGroup(self raft.NodeID, peers []config.PeerConfig, nextIndex uint64) *raft.NodeGroup {
	var voting []raft.NodeEndpoint
	var standby []raft.NodeEndpoint
	for _, p := range peers {
		if raft.NodeID(p.ID) == self {
			continue
		}
		ep := raft.NodeEndpoint{ID: raft.NodeID(p.ID), Address: p.Address}
		if p.IsVoting() {
			voting = append(voting, ep)
		} else {
			standby = append(standby, ep)
		}
	}

	group := raft.NewNodeGroup(self, voting)
	for _, ep := range standby {
		group.AddNode(ep, nextIndex, false)
	}
	return group
}

// Start starts the node, then membership and REST.
func (s *RaftServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrServerAlreadyRunning
	}

	if err := s.node.Start(); err != nil {
		s.nodeCtx.Release()
		return errors.Wrap(err, "start raft node")
	}
	s.logger.Info("raft node listening",
		"id", s.config.Node.ID,
		"address", s.connector.LocalAddr(),
		"transport", s.config.Transport.Kind)

	if s.serf != nil {
		if err := s.serf.Start(); err != nil {
			s.node.Stop()
			return errors.Wrap(err, "start membership")
		}
	}

	if s.rest != nil {
		if err := s.rest.Start(); err != nil {
			if s.serf != nil {
				s.serf.Stop()
			}
			s.node.Stop()
			return errors.Wrap(err, "start REST server")
		}
	}

	s.running = true
	return nil
}

// Stop stops the surfaces in reverse start order, then the node, which
// releases its storage and transport.
func (s *RaftServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServerNotRunning
	}
	s.running = false

	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if s.rest != nil {
		record(s.rest.Stop(ctx))
	}
	if s.serf != nil {
		record(s.serf.Stop())
	}
	record(s.node.Stop())

	s.logger.Info("raftd stopped")
	return first
}

// Node returns the underlying raft node.
func (s *RaftServer) Node() *raft.Node {
	return s.node
}

// RESTAddr returns the REST server address, or "" when REST is disabled.
func (s *RaftServer) RESTAddr() string {
	if s.rest == nil {
		return ""
	}
	return s.rest.Addr()
}

// serveCmd handles the serve command.
func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	id := fs.String("id", "", "Node ID (overrides config)")
	address := fs.String("address", "", "Raft listen address (overrides config)")
	dataDir := fs.String("data-dir", "", "Data directory path (overrides config)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printServeUsage(os.Stdout)
		return 0
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Command-line flags take precedence over the file and the environment.
	if *id != "" {
		cfg.Node.ID = *id
	}
	if *address != "" {
		cfg.Node.Address = *address
	}
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		printValidationErrors(errs)
		return 1
	}

	srv, err := NewServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		return 1
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	exitCode := 0
	select {
	case sig := <-sigCh:
		srv.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-srv.Node().Done():
		srv.logger.Error("raft node halted", "error", srv.Node().Err())
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		srv.logger.Error("shutdown failed", "error", err)
		exitCode = 1
	}
	return exitCode
}
