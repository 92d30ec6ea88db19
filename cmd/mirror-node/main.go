// mirror-node runs one Mirror instance: the reflection pipeline, its
// hash-chained event log, recognition and governance services, the
// update registry, and the gossip listener.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/mirrorlabs/mirror/core/pkg/artifacts"
	"github.com/mirrorlabs/mirror/core/pkg/audit"
	"github.com/mirrorlabs/mirror/core/pkg/config"
	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
	"github.com/mirrorlabs/mirror/core/pkg/engine"
	"github.com/mirrorlabs/mirror/core/pkg/eventlog"
	"github.com/mirrorlabs/mirror/core/pkg/governance"
	"github.com/mirrorlabs/mirror/core/pkg/observability"
	"github.com/mirrorlabs/mirror/core/pkg/p2p"
	"github.com/mirrorlabs/mirror/core/pkg/pipeline"
	"github.com/mirrorlabs/mirror/core/pkg/recognition"
	"github.com/mirrorlabs/mirror/core/pkg/replay"
	"github.com/mirrorlabs/mirror/core/pkg/sandbox"
	"github.com/mirrorlabs/mirror/core/pkg/trust"
	"github.com/mirrorlabs/mirror/core/pkg/updates"
	"github.com/mirrorlabs/mirror/core/pkg/workers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mirror-node:", err)
		os.Exit(1)
	}
}

func run() error {
	profilePath := flag.String("profile", "", "YAML profile overriding environment configuration")
	flag.Parse()

	cfg := config.Load()
	if *profilePath != "" {
		profile, err := config.LoadProfile(*profilePath)
		if err != nil {
			return err
		}
		if err := profile.Apply(cfg); err != nil {
			return err
		}
	}
	if cfg.InstanceID == "" {
		return errors.New("MIRROR_INSTANCE_ID is required")
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "mirror-core",
		ServiceVersion: cfg.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.TelemetryEnabled,
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	signer, err := nodeSigner(cfg.DataDir, cfg.InstanceID)
	if err != nil {
		return err
	}

	provider, err := crypto.NewMemoryKeyProvider()
	if err != nil {
		return err
	}
	keyring, err := crypto.NewKeyring(provider)
	if err != nil {
		return err
	}

	guardianKeys := cfg.GuardianKeys
	if len(guardianKeys) == 0 {
		// Single-node development setup: this node's own guardian key.
		guardianKeys = []string{hex.EncodeToString(keyring.PublicKey())}
	}
	trustSet := trust.NewSet(guardianKeys, cfg.TrustedGenesis)

	store, closeStore, err := newEventStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	log := eventlog.New(store, signer, func() []string {
		return append([]string{signer.PublicKey()}, trustSet.GuardianKeys()...)
	})

	trail := audit.NewTrail()
	if cfg.AuditPath != "" {
		f, err := os.OpenFile(cfg.AuditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open audit path: %w", err)
		}
		defer f.Close()
		trail = trail.WithEcho(f)
	}

	cache, err := replay.NewCache(cfg.DataDir)
	if err != nil {
		return err
	}

	executor, err := sandbox.NewExecutor(ctx, sandbox.Config{
		PoolSize:         cfg.SandboxPoolSize,
		AdmissionTimeout: 10 * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() { _ = executor.Close(context.Background()) }()

	var heartbeats recognition.HeartbeatStore
	if cfg.RedisAddr != "" {
		heartbeats = recognition.NewRedisHeartbeats(
			redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), 7*24*time.Hour)
	}
	recog, err := recognition.NewService(recognition.Config{
		Keyring:    keyring,
		Trust:      trustSet.GuardianKeys,
		Heartbeats: heartbeats,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	council, err := governance.NewCouncil(governance.Config{
		Guardians:    guardians(guardianKeys),
		Threshold:    cfg.Threshold,
		VotingPeriod: cfg.VotingPeriod,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	blobStore, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return err
	}
	updatesReg, err := updates.NewRegistry(updates.Config{
		Trust:     trustSet.GuardianKeys,
		Threshold: council,
		Store:     blobStore,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	pipe := pipeline.New(pipeline.Config{
		InstanceID: cfg.InstanceID,
		Log:        log,
		Trail:      trail,
	})

	eng, err := engine.New(engine.Config{
		InstanceID:  cfg.InstanceID,
		Log:         log,
		Pipeline:    pipe,
		Cache:       cache,
		Recognition: recog,
		Council:     council,
		Updates:     updatesReg,
	})
	if err != nil {
		return err
	}

	workersReg := workers.NewRegistry(executor, council).WithQuotas(sandbox.Quotas{
		TimeMS:      cfg.SandboxTimeMS,
		OutputBytes: cfg.SandboxOutputBytes,
	})

	genesisHash, err := streamGenesis(ctx, log, cfg.InstanceID)
	if err != nil {
		return err
	}
	node, err := p2p.NewNode(p2p.Config{
		InstanceID:  cfg.InstanceID,
		GenesisHash: genesisHash,
		Endpoint:    "ws://" + cfg.ListenAddr + "/gossip",
		Signer:      signer,
		Trust:       trustSet,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	gossipBridge := &gossip{
		node:    node,
		council: council,
		updates: updatesReg,
		logger:  logger,
	}
	gossipBridge.register()
	node.Start()
	defer node.Close()

	for _, endpoint := range cfg.BootstrapPeers {
		if err := node.Connect(ctx, endpoint); err != nil {
			logger.Warn("bootstrap peer unreachable", "endpoint", endpoint, "error", err)
		}
	}

	api := &apiServer{
		engine:   eng,
		workers:  workersReg,
		obs:      obs,
		gossip:   gossipBridge,
		executor: governance.MembershipExecutor(council, trustSet.AddGuardianKey),
		logger:   logger,
	}

	mux := http.NewServeMux()
	api.routes(mux)
	mux.Handle("/gossip", node)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("mirror-node listening",
			"instance", cfg.InstanceID, "addr", cfg.ListenAddr,
			"event_store", cfg.EventStore, "peers", len(cfg.BootstrapPeers))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// nodeSigner loads the node's signing seed from the data dir, creating
// one on first start.
func nodeSigner(dataDir, instanceID string) (*crypto.Ed25519Signer, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	seedPath := filepath.Join(dataDir, "node.seed")
	seed, err := os.ReadFile(seedPath)
	if errors.Is(err, os.ErrNotExist) {
		signer, err := crypto.NewEd25519Signer(instanceID)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(seedPath, signer.Seed(), 0o600); err != nil {
			return nil, err
		}
		return signer, nil
	}
	if err != nil {
		return nil, err
	}
	return crypto.NewEd25519SignerFromSeed(seed, instanceID)
}

func newEventStore(cfg *config.Config) (eventlog.Store, func(), error) {
	noop := func() {}
	switch cfg.EventStore {
	case "memory":
		return eventlog.NewMemoryStore(), noop, nil
	case "file":
		store, err := eventlog.NewFileStore(filepath.Join(cfg.DataDir, "events"))
		return store, noop, err
	case "sqlite":
		db, err := sql.Open("sqlite", filepath.Join(cfg.DataDir, "events.db"))
		if err != nil {
			return nil, noop, err
		}
		store, err := eventlog.NewSQLiteStore(db)
		return store, func() { _ = db.Close() }, err
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		store, err := eventlog.NewPostgresStore(db)
		return store, func() { _ = db.Close() }, err
	default:
		return nil, noop, fmt.Errorf("unknown event store %q", cfg.EventStore)
	}
}

func newArtifactStore(ctx context.Context, cfg *config.Config) (artifacts.Store, error) {
	switch cfg.ArtifactStore {
	case "", "fs":
		store, err := artifacts.NewFSStore(filepath.Join(cfg.DataDir, "artifacts"))
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return artifacts.NewS3Store(s3.NewFromConfig(awsCfg), cfg.ArtifactBucket, cfg.ArtifactPrefix), nil
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return artifacts.NewGCSStore(client, cfg.ArtifactBucket, cfg.ArtifactPrefix), nil
	default:
		return nil, fmt.Errorf("unknown artifact store %q", cfg.ArtifactStore)
	}
}

// guardians builds council members from bare public keys; ids are
// positional for nodes configured with a plain key bundle.
func guardians(keys []string) []contracts.Guardian {
	out := make([]contracts.Guardian, 0, len(keys))
	for i, key := range keys {
		out = append(out, contracts.Guardian{
			GuardianID: fmt.Sprintf("guardian-%d", i+1),
			PublicKey:  key,
			JoinedAt:   time.Now().UTC(),
			Status:     contracts.GuardianActive,
		})
	}
	return out
}

// streamGenesis returns the hash of the instance's first own event,
// appending a bootstrap event on an empty log so peers have a genesis
// to verify against.
func streamGenesis(ctx context.Context, log *eventlog.Log, instanceID string) (string, error) {
	stream := eventlog.Stream{InstanceID: instanceID, UserID: instanceID}
	events, err := log.ReadAll(ctx, stream)
	if err != nil {
		return "", err
	}
	if len(events) > 0 {
		return events[0].EventHash, nil
	}
	return log.Append(ctx, stream, contracts.EventReflectionCreated, map[string]any{
		"reflection_id": "genesis",
		"content":       "instance initialized",
		"mode":          string(contracts.ModeFreeform),
	})
}
