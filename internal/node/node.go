// Package node wires every CIS component into one running process: the
// storage substrate, the dual-domain memory service, the skill executor
// and DAG scheduler, the vector search service, the Kademlia/NAT/tunnel
// P2P stack, and the federation sync queue and HTTP server. It is the
// It follows the same phased-construction, signal-driven graceful
// shutdown shape as a conventional long-running daemon, generalized to
// this component set.
package node

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flynn/noise"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cis-project/cis-core/internal/config"
	"github.com/cis-project/cis-core/internal/domain"
	"github.com/cis-project/cis-core/internal/federation"
	"github.com/cis-project/cis-core/internal/federation/syncqueue"
	"github.com/cis-project/cis-core/internal/health"
	"github.com/cis-project/cis-core/internal/logging"
	"github.com/cis-project/cis-core/internal/memory"
	"github.com/cis-project/cis-core/internal/p2p"
	"github.com/cis-project/cis-core/internal/p2p/kademlia"
	"github.com/cis-project/cis-core/internal/p2p/nat"
	"github.com/cis-project/cis-core/internal/p2p/tunnel"
	"github.com/cis-project/cis-core/internal/scheduler"
	"github.com/cis-project/cis-core/internal/security"
	"github.com/cis-project/cis-core/internal/skill"
	"github.com/cis-project/cis-core/internal/storage"
	"github.com/cis-project/cis-core/internal/vector"
)

// Node owns every wired component for one running CIS instance.
type Node struct {
	cfg config.Config
	log zerolog.Logger

	conn     *storage.Connection
	keypair  *security.Keypair
	memory   *memory.Service
	wasmPool *skill.WasmPool
	skills   *skill.Executor
	sched    *scheduler.Scheduler
	vectors  *vector.Service

	dht       *kademlia.DHT
	transport *p2p.UDPTransport
	tunnels   *tunnel.Manager
	tunnelKey noise.DHKey

	peers        *federation.PeerStore
	events       *federation.EventStore
	fedServer    *federation.Server
	fedTransport *federation.TunnelTransport
	syncQueue    *syncqueue.Queue
	memSync      *federation.MemorySyncManager

	health *health.Checker

	httpServer   *http.Server
	tunnelServer *http.Server
	cancel       context.CancelFunc
}

// schedulerDelegate adapts a *scheduler.Scheduler that doesn't exist yet
// to skill.DagDelegate: internal/skill.Executor must be constructed
// before internal/scheduler.Scheduler (the scheduler's NodeDispatcher
// wraps the Executor), so this holds a pointer to the eventual
// *scheduler.Scheduler and only dereferences it once a SkillDag actually
// runs, by which point New has finished wiring both sides.
type schedulerDelegate struct {
	sched **scheduler.Scheduler
}

func (d schedulerDelegate) RunDag(ctx context.Context, dagID string, input []byte) ([]byte, error) {
	return (*d.sched).RunDag(ctx, dagID, input)
}

// New constructs every component from cfg. The only background work it
// starts is the UDP transport's read loop, which answers DHT RPCs from
// the moment the socket is bound; call Run to start everything else.
func New(cfg config.Config) (*Node, error) {
	logger, err := logging.Init(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	conn, err := storage.Open(storage.Options{
		Dir:           cfg.Storage.Dir,
		PrimaryFile:   cfg.Storage.PrimaryFile,
		MaxAttached:   cfg.Storage.MaxAttached,
		BusyTimeoutMS: cfg.Storage.BusyTimeoutMS,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	db := conn.DB()

	keypair, err := security.LoadOrCreateKeypair(config.Home())
	if err != nil {
		return nil, fmt.Errorf("load node keypair: %w", err)
	}
	nodeID := keypair.PublicKeyHex()

	if err := memory.EnsureSchema(db); err != nil {
		return nil, fmt.Errorf("memory schema: %w", err)
	}
	enc, err := loadOrCreateMemoryKey(cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("memory key: %w", err)
	}
	memSvc := memory.NewService(db, enc, nodeID, 1024)

	if err := skill.EnsureSchema(db); err != nil {
		return nil, fmt.Errorf("skill schema: %w", err)
	}
	perms := skill.NewPermissionChecker()
	wasmPool := skill.NewWasmPool(cfg.Wasm.PoolWorkers)

	sqlStore, err := scheduler.NewSQLStore(db)
	if err != nil {
		return nil, fmt.Errorf("scheduler store: %w", err)
	}

	// internal/skill.Executor and internal/scheduler.Scheduler each
	// dispatch into the other (SkillDag manifests run a DAG; DAG task
	// nodes run a skill). *scheduler.Scheduler already satisfies
	// skill.DagDelegate exactly (RunDag has the identical signature), so
	// schedulerDelegate just forwards to it once it exists; skillDispatcher
	// below adapts Executor to scheduler.NodeDispatcher the other way.
	var sched *scheduler.Scheduler
	skills := skill.NewExecutor(db, perms, wasmPool, schedulerDelegate{&sched})

	schedCfg := scheduler.DefaultConfig()
	if cfg.Scheduler.MaxConcurrentRuns > 0 {
		schedCfg.MaxConcurrentNodes = cfg.Scheduler.MaxConcurrentRuns
	}
	sched = scheduler.New(schedCfg, newSkillDispatcher(skills), nil, sqlStore)

	annIndex := vector.NewIndex(cfg.Vector.Dimensions, cfg.Vector.InitialEfSearch)
	ftsStore, err := vector.NewFTSStore(db)
	if err != nil {
		return nil, fmt.Errorf("fts store: %w", err)
	}
	vectors := vector.NewService(annIndex, ftsStore, cfg.Vector.InitialEfSearch, cfg.Vector.InitialPreload)

	selfID := kademlia.HashID(keypair.Public)
	storeHandle := p2p.NewKademliaStoreHandle()
	transport, err := p2p.NewUDPTransport(cfg.P2P.ListenAddr, storeHandle)
	if err != nil {
		return nil, fmt.Errorf("udp transport: %w", err)
	}
	dht := kademlia.New(domain.NodeContact{ID: [20]byte(selfID), Endpoint: cfg.P2P.ListenAddr}, transport)
	storeHandle.Bind(dht)

	if result, err := nat.DiscoverNAT(context.Background(), nat.DefaultSTUNConfig()); err != nil {
		logger.Warn().Err(err).Msg("nat discovery failed, continuing without a known public address")
	} else {
		logger.Info().Str("nat_type", string(result.NATType)).Str("public_addr", result.PublicAddr).Msg("discovered NAT mapping")
	}

	tunnelKey, err := tunnel.GenerateStaticKey()
	if err != nil {
		return nil, fmt.Errorf("generate tunnel key: %w", err)
	}
	tunnels := tunnel.NewManager()
	fedTransport := federation.NewTunnelTransport(tunnels)

	peers, err := federation.NewPeerStore(db)
	if err != nil {
		return nil, fmt.Errorf("peer store: %w", err)
	}
	events, err := federation.NewEventStore(db)
	if err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}
	verification := federation.SignaturesOff
	if cfg.Security.RequireSigning {
		verification = federation.SignaturesOn
	}
	fedServer := federation.NewServer(nodeID, keypair, peers, events, verification)
	if cfg.Telemetry.Enabled {
		fedServer.EnableMetrics()
	}

	syncCfg := syncqueue.DefaultConfig()
	if cfg.Federation.SyncWorkers > 0 {
		syncCfg.Workers = cfg.Federation.SyncWorkers
	}
	if cfg.Federation.QueueCapacity > 0 {
		syncCfg.Capacity = cfg.Federation.QueueCapacity
	}
	syncQ := syncqueue.New(syncCfg, deliverFunc(memSvc, fedTransport))

	memSync := federation.NewMemorySyncManager(memSvc, fedTransport, nodeID, federation.DefaultSyncInterval)

	healthChecker := health.NewChecker(db, cfg.Storage.Dir, peers)

	n := &Node{
		cfg:          cfg,
		log:          logger,
		conn:         conn,
		keypair:      keypair,
		memory:       memSvc,
		wasmPool:     wasmPool,
		skills:       skills,
		sched:        sched,
		vectors:      vectors,
		dht:          dht,
		transport:    transport,
		tunnels:      tunnels,
		tunnelKey:    tunnelKey,
		peers:        peers,
		events:       events,
		fedServer:    fedServer,
		fedTransport: fedTransport,
		syncQueue:    syncQ,
		memSync:      memSync,
		health:       healthChecker,
	}
	return n, nil
}

// loadOrCreateMemoryKey loads the private-domain encryption key, generating
// one on first run. The passphrase comes from CIS_MEMORY_PASSPHRASE; a node
// with no passphrase set falls back to a fixed development phrase so a
// single-operator node still boots, which LoadKeyFile detects and rejects
// once a real passphrase is later configured (the key file's HMAC simply
// won't match).
func loadOrCreateMemoryKey(cfg config.SecurityConfig) (*memory.Encryptor, error) {
	passphrase := os.Getenv("CIS_MEMORY_PASSPHRASE")
	if passphrase == "" {
		passphrase = "cis-development-passphrase"
	}
	if _, err := os.Stat(cfg.KeyFile); err == nil {
		return memory.LoadKeyFile(cfg.KeyFile, passphrase)
	}
	params := memory.Argon2Params{
		TimeCost: cfg.Argon2TimeCost,
		MemoryKB: cfg.Argon2MemoryKB,
		Threads:  cfg.Argon2Threads,
	}
	return memory.GenerateKeyFile(cfg.KeyFile, passphrase, params)
}

// deliverFunc builds the syncqueue.Deliver callback: look up the current
// CRDT state of the task's memory key and push it to the task's peer over
// the tunnel transport.
func deliverFunc(memSvc *memory.Service, transport *federation.TunnelTransport) syncqueue.Deliver {
	return func(ctx context.Context, task domain.SyncTask) error {
		item, err := memSvc.GetPublicItem(task.MemoryKey)
		if err != nil {
			return err
		}
		return transport.SendSync(ctx, task.PeerID, domain.MemorySyncBroadcast, domain.MemorySyncBroadcastPayload{
			Entry: item,
		})
	}
}

// Run starts every background component and blocks until ctx is
// cancelled or the process receives SIGINT/SIGTERM, then shuts down
// gracefully.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	go n.health.Run(ctx)
	go n.syncQueue.Run(ctx)
	go n.memSync.Run(ctx, n.connectedPeerIDs)
	go n.dht.Refresh(ctx)

	n.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", n.cfg.Federation.Host, n.cfg.Federation.Port),
		Handler:      n.fedServer.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	tunnelMux := http.NewServeMux()
	tunnelMux.HandleFunc("/_cis/v1/tunnel", n.handleTunnelUpgrade)
	n.tunnelServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", n.cfg.Federation.Host, n.cfg.Federation.TunnelPort),
		Handler: tunnelMux,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = n.httpServer.Shutdown(shutdownCtx)
		_ = n.tunnelServer.Shutdown(shutdownCtx)
		n.Close()
	}()

	go func() {
		if err := n.tunnelServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.log.Error().Err(err).Msg("tunnel server stopped")
		}
	}()

	n.log.Info().Str("addr", n.httpServer.Addr).Msg("cis node serving")
	if err := n.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleTunnelUpgrade upgrades an incoming HTTP connection to a Noise XX
// tunnel and registers it under the remote node ID once the handshake
// completes.
func (n *Node) handleTunnelUpgrade(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Warn().Err(err).Msg("tunnel upgrade failed")
		return
	}
	t, err := tunnel.AcceptServer(r.Context(), conn, n.tunnelKey, security.VerifyChallenge)
	if err != nil {
		n.log.Warn().Err(err).Msg("tunnel handshake failed")
		conn.Close()
		return
	}
	n.tunnels.Register(t.PeerID, t)
	go t.Run(30 * time.Second)
}

func (n *Node) connectedPeerIDs() []string {
	all := n.tunnels.All()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	return ids
}

// Close tears down every component. It is not safe to call twice: the
// second call panics when WasmPool.Close closes its done channel again.
func (n *Node) Close() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wasmPool.Close()
	n.tunnels.CloseAll()
	_ = n.transport.Close()
	_ = n.conn.Close()
}
