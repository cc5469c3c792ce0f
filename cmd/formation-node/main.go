package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuemby/formation/pkg/build"
	"github.com/cuemby/formation/pkg/dns"
	"github.com/cuemby/formation/pkg/health"
	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/mesh"
	"github.com/cuemby/formation/pkg/metrics"
	"github.com/cuemby/formation/pkg/proxy"
	"github.com/cuemby/formation/pkg/queue"
	"github.com/cuemby/formation/pkg/runtime"
	"github.com/cuemby/formation/pkg/security"
	"github.com/cuemby/formation/pkg/state"
	"github.com/cuemby/formation/pkg/storage"
	"github.com/cuemby/formation/pkg/types"
)

// formation-node boots every Formation subsystem -- the intent queue,
// the CRDT state store, the build & placement engine, authoritative
// DNS, the SNI reverse proxy, and the peer mesh -- in one process,
// following cmd/warren/main.go's cobra root + subcommands + pprof +
// signal-handling structure.
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "formation-node",
	Short: "Formation node - fog compute control plane",
	Long: `formation-node runs the full Formation control plane on this
host: the intent queue, CRDT state store, build & placement engine,
authoritative DNS, SNI reverse proxy, and peer mesh.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)

	startCmd.Flags().String("node-id", "node-1", "Unique node ID (hex-encoded, used in instance_id derivation)")
	startCmd.Flags().String("data-dir", "./formation-data", "Data directory for queue/state persistence")
	startCmd.Flags().String("queue-addr", "127.0.0.1:3001", "Intent queue HTTP listen address")
	startCmd.Flags().String("state-addr", "127.0.0.1:3002", "CRDT state store HTTP listen address")
	startCmd.Flags().String("build-addr", "127.0.0.1:8080", "Build & placement engine HTTP listen address")
	startCmd.Flags().String("dns-addr", dns.DefaultListenAddr, "Authoritative DNS UDP listen address")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus metrics and health check listen address")
	startCmd.Flags().String("build-image", "formation/build-server:latest", "Container image the build daemon runs from")
	startCmd.Flags().String("containerd-socket", runtime.DefaultSocketPath, "containerd socket path")
	startCmd.Flags().Uint8("vcpus", 8, "Resource envelope: vCPUs this node offers the capability matcher")
	startCmd.Flags().Uint64("memory-mb", 16384, "Resource envelope: memory (MB) this node offers the capability matcher")
	startCmd.Flags().Uint64("storage-gb", 200, "Resource envelope: storage (GB) this node offers the capability matcher")
	startCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints")
	startCmd.Flags().Bool("disable-proxy", false, "Disable the SNI reverse proxy (useful when ports 80/443 are unavailable)")
	startCmd.Flags().String("acme-email", "", "Contact email for ACME certificate issuance; leave empty to disable automatic TLS cert renewal")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a Formation node",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		queueAddr, _ := cmd.Flags().GetString("queue-addr")
		stateAddr, _ := cmd.Flags().GetString("state-addr")
		buildAddr, _ := cmd.Flags().GetString("build-addr")
		dnsAddr, _ := cmd.Flags().GetString("dns-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		buildImage, _ := cmd.Flags().GetString("build-image")
		containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
		vcpus, _ := cmd.Flags().GetUint8("vcpus")
		memoryMB, _ := cmd.Flags().GetUint64("memory-mb")
		storageGB, _ := cmd.Flags().GetUint64("storage-gb")
		pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")
		proxyDisabled, _ := cmd.Flags().GetBool("disable-proxy")
		acmeEmail, _ := cmd.Flags().GetString("acme-email")

		logger := log.WithNodeID(nodeID)
		logger.Info().Str("data_dir", dataDir).Msg("starting formation node")

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer store.Close()

		q, err := queue.Open(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open queue: %w", err)
		}
		defer q.Close()

		ds, err := state.New(nodeID, store, q)
		if err != nil {
			return fmt.Errorf("failed to initialize state store: %w", err)
		}

		hostBridgeIP, err := build.HostBridgeIP("")
		if err != nil {
			logger.Warn().Err(err).Msg("failed to read host bridge IP, build sandboxes will run without it")
		}

		containerdRuntime, err := runtime.NewContainerdRuntime(containerdSocket)
		if err != nil {
			return fmt.Errorf("failed to connect to containerd: %w", err)
		}
		defer containerdRuntime.Close()

		matcher := &peerCapacityMatcher{
			ds:       ds,
			selfID:   nodeID,
			capacity: build.NodeCapacity{VCPUs: vcpus, MemoryMB: memoryMB, StorageGB: storageGB},
		}

		engine, err := build.NewEngine(build.Config{
			NodeID:       nodeID,
			BuildImage:   buildImage,
			DataDir:      dataDir,
			HostBridgeIP: hostBridgeIP,
		}, q, ds, matcher, containerdRuntime, nil, nil)
		if err != nil {
			return fmt.Errorf("failed to create build engine: %w", err)
		}

		healthRepo := health.NewIPHealthRepository(health.DefaultConfig())
		resolver := dns.NewResolver(ds, healthRepo, nil)
		dnsServer := dns.NewServer(resolver, &dns.Config{ListenAddr: dnsAddr})

		meshWatcher := mesh.New(ds.State(), ds)

		router := proxy.NewRouter()
		sniProxy := proxy.New(proxy.DefaultConfig(), router)

		if acmeEmail != "" {
			secretsManager, err := security.NewSecretsManager(security.DeriveKeyFromClusterID(nodeID))
			if err != nil {
				logger.Warn().Err(err).Msg("failed to derive certificate encryption key, certificates will not auto-renew")
			} else {
				acmeClient, err := proxy.NewACMEClient(store, acmeEmail, "", secretsManager)
				if err != nil {
					logger.Warn().Err(err).Msg("failed to initialize ACME client, certificates will not auto-renew")
				} else {
					renewStop := make(chan struct{})
					acmeClient.StartRenewalJob(renewStop)
					defer close(renewStop)
				}
			}
		}

		collector := metrics.NewCollector(ds)
		collector.Start()
		defer collector.Stop()
		metrics.RegisterComponent("state", true, "")
		metrics.RegisterComponent("queue", true, "")
		metrics.RegisterComponent("build_engine", true, "")
		metrics.RegisterComponent("dns", true, "")
		metrics.RegisterComponent("proxy", true, "")
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsMux.Handle("/health", metrics.HealthHandler())
		metricsMux.Handle("/ready", metrics.ReadyHandler())
		metricsMux.Handle("/live", metrics.LivenessHandler())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		g, gCtx := errgroup.WithContext(ctx)

		g.Go(func() error { return ds.RunConsumer(gCtx) })
		g.Go(func() error { return engine.Run(gCtx) })
		g.Go(func() error { return dnsServer.Start(gCtx) })
		g.Go(func() error { return meshWatcher.Watch(gCtx, mesh.DefaultWatchInterval) })
		g.Go(func() error { return syncProxyRoutes(gCtx, ds, router) })
		g.Go(func() error { return runHealthChecks(gCtx, ds, healthRepo) })

		queueServer := queue.NewServer(q)
		g.Go(func() error { return serveHTTP(gCtx, queueAddr, queueServer) })

		stateServer := state.NewServer(ds)
		g.Go(func() error { return serveHTTP(gCtx, stateAddr, stateServer) })

		buildServer := build.NewServer(q)
		g.Go(func() error { return serveHTTP(gCtx, buildAddr, buildServer) })

		g.Go(func() error { return serveHTTP(gCtx, metricsAddr, metricsMux) })

		if !proxyDisabled {
			g.Go(func() error { return sniProxy.ListenAndServe(gCtx) })
		}

		if pprofEnabled {
			pprofAddr := "127.0.0.1:6060"
			g.Go(func() error { return serveHTTP(gCtx, pprofAddr, http.DefaultServeMux) })
			logger.Info().Str("addr", pprofAddr).Msg("pprof profiling endpoints enabled")
		}

		logger.Info().
			Str("queue_addr", queueAddr).
			Str("state_addr", stateAddr).
			Str("build_addr", buildAddr).
			Str("dns_addr", dnsAddr).
			Str("metrics_addr", metricsAddr).
			Msg("formation node is running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case <-gCtx.Done():
		}

		cancel()
		if err := dnsServer.Stop(); err != nil {
			logger.Warn().Err(err).Msg("failed to stop dns server cleanly")
		}
		if err := g.Wait(); err != nil && gCtx.Err() == nil {
			return fmt.Errorf("node shutdown with error: %w", err)
		}
		logger.Info().Msg("shutdown complete")
		return nil
	},
}

// serveHTTP runs an *http.Server until ctx is canceled, then shuts it
// down gracefully -- the same pattern cmd/warren/main.go uses for its
// metrics/API servers, generalized to a reusable helper since this
// process runs four independent HTTP surfaces.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// dnsRecordStore is the narrow slice of *state.DataStore the proxy
// route sync needs; *state.DataStore already satisfies it.
type dnsRecordStore interface {
	ListDNSRecords() []types.DnsRecord
}

// syncProxyRoutes periodically rebuilds the proxy's route table from
// the CRDT DNS zone: any record whose formnet IPs are live backends
// becomes a routable domain. There is no push notification from
// pkg/state, so this polls on the same cadence pkg/mesh does.
func syncProxyRoutes(ctx context.Context, store dnsRecordStore, router *proxy.Router) error {
	ticker := time.NewTicker(mesh.DefaultWatchInterval)
	defer ticker.Stop()

	sync := func() {
		for _, rec := range store.ListDNSRecords() {
			if len(rec.FormnetIP) == 0 {
				continue
			}
			router.AddRoute(rec.Domain, proxy.Backend{Domain: rec.Domain, Addresses: rec.FormnetIP})
		}
	}
	sync()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sync()
		}
	}
}

// runHealthChecks keeps healthRepo populated so the DNS resolver's
// Filter can actually drop dead backends: every formnet IP referenced
// by a DNS record gets a TCP dial on the same poll cadence
// syncProxyRoutes uses. Without this loop the repository never
// observes anything and every address reads as available forever.
func runHealthChecks(ctx context.Context, store dnsRecordStore, repo *health.IPHealthRepository) error {
	ticker := time.NewTicker(mesh.DefaultWatchInterval)
	defer ticker.Stop()

	check := func() {
		for _, rec := range store.ListDNSRecords() {
			for _, addr := range rec.FormnetIP {
				checker := health.NewTCPChecker(addr)
				repo.Record(addr, checker.Check(ctx))
			}
		}
	}
	check()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			check()
		}
	}
}

// peerCapacityMatcher adapts a fixed local resource envelope plus the
// live peer set into a build.CapabilityMatcher: the candidate set for
// placement is every known peer id, refreshed on each call so newly
// joined peers participate in the deterministic tie-break without
// restarting the engine.
type peerCapacityMatcher struct {
	ds       *state.DataStore
	selfID   string
	capacity build.NodeCapacity
}

func (m *peerCapacityMatcher) IsResponsible(formfile types.Formfile, nodeID, buildID string) (bool, error) {
	peers := m.ds.ListPeers()
	candidates := make([]string, 0, len(peers)+1)
	seenSelf := false
	for _, p := range peers {
		candidates = append(candidates, p.ID)
		if p.ID == m.selfID {
			seenSelf = true
		}
	}
	if !seenSelf {
		candidates = append(candidates, m.selfID)
	}

	matcher := build.NewResourceCapabilityMatcher(m.capacity, candidates)
	return matcher.IsResponsible(formfile, nodeID, buildID)
}
