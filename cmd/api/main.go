package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"tasktrail.org/internal/audit"
	"tasktrail.org/internal/auth"
	"tasktrail.org/internal/config"
	"tasktrail.org/internal/httpapi"
	"tasktrail.org/internal/obs"
	"tasktrail.org/internal/orgcache"
	"tasktrail.org/internal/orgscope"
	"tasktrail.org/internal/seed"
	"tasktrail.org/internal/store"
	"tasktrail.org/internal/store/memstore"
	"tasktrail.org/internal/store/sqlstore"
	"tasktrail.org/internal/stream"
	"tasktrail.org/internal/tasks"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		migrateFirst = flag.Bool("migrate", false, "apply bundled migrations before serving")
		seedFile     = flag.String("seed", "", "apply a YAML seed file before serving")
	)
	flag.Parse()

	log := obs.Logger()
	if path := config.LoadDotEnv(); path != "" {
		log.WithField("file", path).Info("loaded environment file")
	}
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Warn("unknown log level, keeping info")
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, cfg.OTLPEndpoint, "tasktrail-api", cfg.Environment)
	if err != nil {
		log.WithError(err).Fatal("init tracing")
	}

	st, err := openStore(ctx, cfg, *migrateFirst)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}

	if *seedFile != "" {
		f, err := seed.ParseFile(*seedFile)
		if err != nil {
			log.WithError(err).Fatal("parse seed file")
		}
		res, err := seed.Apply(ctx, st, f)
		if err != nil {
			log.WithError(err).Fatal("apply seed file")
		}
		log.WithFields(logrus.Fields{
			"organizations": res.OrganizationsCreated,
			"users":         res.UsersCreated,
			"skipped":       res.Skipped,
		}).Info("seed applied")
	}

	var cacheOpts []orgcache.Option
	if cfg.RedisURL != "" {
		client, err := orgcache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		defer client.Close()
		cacheOpts = append(cacheOpts, orgcache.WithRedis(client))
	}
	orgs := orgcache.New(st, cfg.OrgCacheSize, cfg.OrgCacheTTL, cacheOpts...)

	signer, err := auth.NewTokenSigner(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer), auth.WithTTL(cfg.JWTTTL))
	if err != nil {
		log.WithError(err).Fatal("token signer")
	}
	authSvc, err := auth.NewService(st, orgs, signer)
	if err != nil {
		log.WithError(err).Fatal("auth service")
	}
	hub := stream.New[audit.Entry](64)
	recorder := audit.NewRecorder(st, audit.WithHub(hub))
	taskSvc := tasks.NewService(st, st, orgscope.NewResolver(orgs), recorder, tasks.WithTracer(obs.Tracer()))

	probe := httpapi.ReadyProbe{Store: st}
	health := httpapi.NewGRPCServer(probe)
	api := httpapi.New(httpapi.Options{
		Auth:         authSvc,
		Tasks:        taskSvc,
		Ready:        probe,
		Health:       health,
		Version:      version,
		CORSOrigins:  cfg.CORSOrigins,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	// WriteTimeout stays unset: the audit stream is long-lived.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("listen grpc")
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Error("grpc serve")
		}
	}()
	go health.Watch(ctx, 10*time.Second)

	log.WithFields(logrus.Fields{
		"version":   version,
		"http_addr": srv.Addr,
		"grpc_addr": cfg.GRPCAddr,
		"driver":    cfg.DBDriver,
	}).Info("starting tasktrail-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen http")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	grpcServer.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracing shutdown")
	}
	if err := st.Close(); err != nil {
		log.WithError(err).Warn("close store")
	}
	log.Info("stopped")
}

func openStore(ctx context.Context, cfg config.Config, migrateFirst bool) (store.Store, error) {
	if cfg.DBDriver == "memory" {
		obs.Logger().Warn("using in-memory store; data is lost on restart")
		return memstore.New(), nil
	}
	st, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		_ = st.Close()
		return nil, err
	}
	if migrateFirst {
		applied, err := st.Migrate(ctx)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		obs.Logger().WithField("applied", applied).Info("migrations applied")
	}
	return st, nil
}
