package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cazacugmihai/fleetctl/pkg/api"
	"github.com/cazacugmihai/fleetctl/pkg/events"
	"github.com/cazacugmihai/fleetctl/pkg/executor"
	"github.com/cazacugmihai/fleetctl/pkg/log"
	"github.com/cazacugmihai/fleetctl/pkg/manager"
	"github.com/cazacugmihai/fleetctl/pkg/metrics"
	"github.com/cazacugmihai/fleetctl/pkg/runtime"
	"github.com/cazacugmihai/fleetctl/pkg/security"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl - a group-tree workload orchestrator control plane",
	Long: `fleetctl runs the control plane for a tree of workload groups:
a versioned snapshot repository, a deployment planner, and a
reconciliation executor, replicated across managers with Raft.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token ADDR",
	Short: "Mint a join token from the leader at ADDR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		url := fmt.Sprintf("http://%s/v2/cluster/tokens", args[0])
		body, err := json.Marshal(map[string]string{"role": role})
		if err != nil {
			return err
		}
		resp, err := http.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("contact leader at %s: %w", args[0], err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("leader rejected token request: status %d", resp.StatusCode)
		}
		var token struct {
			Token     string    `json:"Token"`
			Role      string    `json:"Role"`
			ExpiresAt time.Time `json:"ExpiresAt"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
			return fmt.Errorf("decode token response: %w", err)
		}
		fmt.Printf("token: %s\nrole: %s\nexpires: %s\n", token.Token, token.Role, token.ExpiresAt)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("role", "manager", "role to mint the token for (manager or observer)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this node as a control plane manager",
	Long: `serve starts this node's raft instance, the single-writer
GroupManager, the deployment executor, and the REST API. If --bootstrap
is set this node forms a new single-node cluster; otherwise it expects
to be added as a voter via "fleetctl join" against an existing leader.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "manager-1", "unique node ID")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:7946", "address for raft communication")
	serveCmd.Flags().String("api-addr", "127.0.0.1:8080", "address for the REST API")
	serveCmd.Flags().String("data-dir", "./fleetctl-data", "data directory for cluster state")
	serveCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
	serveCmd.Flags().Bool("bootstrap", false, "bootstrap a new single-node cluster")
	serveCmd.Flags().Bool("json-log", true, "emit logs as JSON instead of console-formatted")
}

func runServe(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	socketPath, _ := cmd.Flags().GetString("containerd-socket")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	jsonLog, _ := cmd.Flags().GetBool("json-log")

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: jsonLog, Output: os.Stdout})

	mgr, err := newManager(nodeID, bindAddr, dataDir, socketPath)
	if err != nil {
		return err
	}

	if bootstrap {
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
		mainLog := log.WithComponent("main")
		mainLog.Info().Msg("cluster bootstrapped")
	}

	return serveUntilSignal(mgr, apiAddr)
}

// newManager wires a containerd-backed executor and event bus into a fresh
// GroupManager. Shared by serve (bootstrap) and join (add as voter) since
// both end up running the same node.
func newManager(nodeID, bindAddr, dataDir, socketPath string) (*manager.GroupManager, error) {
	taskRuntime, err := runtime.NewContainerdRuntime(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd at %s: %w", socketPath, err)
	}

	// The executor derives its own secrets key from nodeID rather than
	// sharing the GroupManager's, since it has to be built before mgr
	// exists to hand to manager.NewManager — DeriveKeyFromClusterID is
	// deterministic, so both arrive at the same key independently.
	secretsManager, err := security.NewSecretsManager(security.DeriveKeyFromClusterID(nodeID))
	if err != nil {
		return nil, fmt.Errorf("create secrets manager: %w", err)
	}

	bus := events.NewBroker()
	bus.Start()
	exec := executor.NewDeploymentExecutor(taskRuntime, bus, secretsManager)

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		DataDir:  dataDir,
	}, exec)
	if err != nil {
		return nil, fmt.Errorf("create manager: %w", err)
	}
	return mgr, nil
}

// serveUntilSignal starts the metrics collector and REST API for mgr and
// blocks until SIGINT/SIGTERM or the API server fails, then shuts both down.
func serveUntilSignal(mgr *manager.GroupManager, apiAddr string) error {
	nodeLog := log.WithComponent("main")

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

	controller := api.NewController(mgr)
	server := &http.Server{
		Addr:         apiAddr,
		Handler:      controller.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		nodeLog.Info().Str("addr", apiAddr).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("API server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		nodeLog.Info().Msg("shutting down")
	case err := <-errCh:
		nodeLog.Error().Err(err).Msg("API server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("shutdown manager: %w", err)
	}

	nodeLog.Info().Msg("shutdown complete")
	return nil
}

var joinCmd = &cobra.Command{
	Use:   "join LEADER_ADMIN_ADDR",
	Short: "Join this node to an existing cluster as a raft voter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		leaderAddr := args[0]
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		socketPath, _ := cmd.Flags().GetString("containerd-socket")
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			return fmt.Errorf("--token is required")
		}

		log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

		mgr, err := newManager(nodeID, bindAddr, dataDir, socketPath)
		if err != nil {
			return err
		}

		if err := mgr.Join(leaderAddr, token); err != nil {
			return fmt.Errorf("join cluster: %w", err)
		}
		joinLog := log.WithComponent("main")
		joinLog.Info().Str("leader", leaderAddr).Msg("joined cluster")

		return serveUntilSignal(mgr, apiAddr)
	},
}

func init() {
	joinCmd.Flags().String("node-id", "manager-2", "unique node ID")
	joinCmd.Flags().String("bind-addr", "127.0.0.1:7947", "address for raft communication")
	joinCmd.Flags().String("api-addr", "127.0.0.1:8081", "address for the REST API")
	joinCmd.Flags().String("data-dir", "./fleetctl-data", "data directory for cluster state")
	joinCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
	joinCmd.Flags().String("token", "", "join token issued by the leader")
}
