// Package main provides the drawing daemon. A producer hosts the wheel, its
// HTTP API and the viewer websocket, and serves the broadcast feed over gRPC;
// a replica follows a producer's feed and re-serves it to local viewers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cory-johannsen/fortune/internal/api"
	"github.com/cory-johannsen/fortune/internal/broadcast"
	"github.com/cory-johannsen/fortune/internal/config"
	"github.com/cory-johannsen/fortune/internal/drawing"
	"github.com/cory-johannsen/fortune/internal/eventqueue"
	"github.com/cory-johannsen/fortune/internal/observability"
	"github.com/cory-johannsen/fortune/internal/preset"
	"github.com/cory-johannsen/fortune/internal/scripting"
	"github.com/cory-johannsen/fortune/internal/server"
	"github.com/cory-johannsen/fortune/internal/storage"
	"github.com/cory-johannsen/fortune/internal/storage/bolt"
	"github.com/cory-johannsen/fortune/internal/storage/postgres"
	"github.com/cory-johannsen/fortune/internal/ticket"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	allowAnyOrigin := flag.Bool("allow-any-origin", false, "accept websocket viewers from any origin")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()
	logger = observability.ForMode(logger, cfg.Server.Mode)

	replica := cfg.Server.Mode == config.ModeReplica
	logger.Info("starting fortune daemon",
		zap.String("session_id", cfg.Server.SessionID),
		zap.String("http_addr", cfg.Broadcast.HTTPAddr()),
	)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("opening snapshot store", zap.Error(err))
	}
	defer closeStore()

	var verifier *ticket.Verifier
	if cfg.Ticket.PublicKeyHex != "" {
		pub, err := ticket.PublicKeyFromHex(cfg.Ticket.PublicKeyHex)
		if err != nil {
			logger.Fatal("parsing ticket public key", zap.Error(err))
		}
		verifier, err = ticket.NewVerifier(pub, cfg.Ticket.ReplayCacheSize, logger)
		if err != nil {
			logger.Fatal("creating ticket verifier", zap.Error(err))
		}
		logger.Info("verifiable tickets enabled")
	}

	var rule *scripting.WeightRule
	if cfg.Drawing.WeightScript != "" {
		rule, err = scripting.LoadWeightRule(cfg.Drawing.WeightScript, scripting.DefaultInstructionLimit, logger)
		if err != nil {
			logger.Fatal("loading weight script", zap.Error(err))
		}
		defer rule.Close()
		logger.Info("weight rule loaded", zap.String("rule", rule.Name()))
	}

	stream := broadcast.NewStream(cfg.Broadcast.Backlog, logger)
	defer stream.Close()

	host, err := drawing.New(drawing.Options{
		SessionID: cfg.Server.SessionID,
		Replica:   replica,
		Queue: eventqueue.Options{
			MaxQueueSize: cfg.Queue.MaxSize,
			EventTimeout: cfg.Queue.EventTimeout,
			StopOnError:  !cfg.Queue.ContinueOnError,
		},
		Settings: broadcast.Settings{
			Mode:                broadcast.ModeClassic,
			SpinDurationSeconds: cfg.Drawing.SpinDuration.Seconds(),
			BaseRotations:       cfg.Drawing.BaseRotations,
		},
		Publisher: stream,
		Store:     store,
		Verifier:  verifier,
		Rule:      rule,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("creating drawing host", zap.Error(err))
	}

	if !replica {
		if err := seed(ctx, host, cfg.Drawing.Preset, logger); err != nil {
			logger.Fatal("seeding drawing", zap.Error(err))
		}
	}

	lifecycle := server.NewLifecycle(logger, server.DefaultShutdownTimeout)

	lifecycle.Add("drawing", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
		StopFn: func(context.Context) error {
			host.Close()
			return nil
		},
	})

	var checkOrigin func(*http.Request) bool
	if *allowAnyOrigin {
		checkOrigin = func(*http.Request) bool { return true }
	}
	hub := broadcast.NewHub(stream, logger, checkOrigin)
	lifecycle.Add("viewer-hub", &server.FuncService{StartFn: hub.Run})

	grpcLis, err := net.Listen("tcp", cfg.Broadcast.GRPCAddr())
	if err != nil {
		logger.Fatal("listening for feed", zap.String("addr", cfg.Broadcast.GRPCAddr()), zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	broadcast.RegisterFeedService(grpcServer, broadcast.NewFeedServer(stream, logger))
	lifecycle.Add("feed", server.GRPCService(grpcServer, grpcLis))

	httpLis, err := net.Listen("tcp", cfg.Broadcast.HTTPAddr())
	if err != nil {
		logger.Fatal("listening for http", zap.String("addr", cfg.Broadcast.HTTPAddr()), zap.Error(err))
	}
	httpServer := &http.Server{
		Handler:           api.NewRouter(host, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	lifecycle.Add("http", server.HTTPService(httpServer, httpLis))

	if replica {
		conn, err := grpc.NewClient(cfg.Broadcast.Upstream, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			logger.Fatal("dialing upstream", zap.String("upstream", cfg.Broadcast.Upstream), zap.Error(err))
		}
		defer conn.Close()
		lifecycle.Add("relay", &server.FuncService{
			StartFn: func(ctx context.Context) error {
				return broadcast.Relay(ctx, conn, logger, follow(ctx, host, logger))
			},
		})
	}

	logger.Info("fortune daemon ready", zap.Duration("startup", time.Since(start)))
	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("daemon stopped", zap.Error(err))
	}
}

// openStore opens the configured snapshot store.
//
// Postcondition: The returned close function is always safe to call.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, func() {}, err
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		return postgres.NewSnapshotRepository(pool.DB()), pool.Close, nil
	case config.BackendBolt:
		s, err := bolt.Open(cfg.Storage.BoltPath)
		if err != nil {
			return nil, func() {}, err
		}
		logger.Info("bolt store opened", zap.String("path", cfg.Storage.BoltPath))
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("closing bolt store", zap.Error(err))
			}
		}, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// seed restores the session snapshot, or loads the preset pool when there is
// none.
func seed(ctx context.Context, host *drawing.Host, presetPath string, logger *zap.Logger) error {
	restored, err := host.Restore(ctx)
	if err != nil {
		return err
	}
	if restored || presetPath == "" {
		return nil
	}
	p, err := preset.Load(presetPath)
	if err != nil {
		return err
	}
	ev, err := host.UpdateParticipants(p.Pool())
	if err != nil {
		return err
	}
	if _, err := ev.Wait(ctx); err != nil {
		return err
	}
	logger.Info("preset loaded",
		zap.String("preset", p.Name),
		zap.Int("participants", len(p.Participants)),
	)
	return nil
}

// follow returns the relay callback of a replica. Each message is applied in
// order; a message the local wheel rejects is logged and skipped so one bad
// spin does not stop the mirror.
func follow(ctx context.Context, host *drawing.Host, logger *zap.Logger) func(broadcast.Message) error {
	return func(m broadcast.Message) error {
		ev, err := host.Apply(m)
		if err != nil {
			return err
		}
		if _, err := ev.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("upstream message rejected",
				zap.Uint64("seq", m.Seq),
				zap.String("type", string(m.Type)),
				zap.String("reason", drawing.Explain(err)),
				zap.Error(err),
			)
		}
		return nil
	}
}
