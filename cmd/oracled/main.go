package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"nestoracle/internal/callback"
	"nestoracle/internal/config"
	cronrunner "nestoracle/internal/cron"
	"nestoracle/internal/custody"
	"nestoracle/internal/db"
	"nestoracle/internal/dispatch"
	"nestoracle/internal/events"
	"nestoracle/internal/handler"
	"nestoracle/internal/keeper"
	"nestoracle/internal/lock"
	"nestoracle/internal/logger"
	"nestoracle/internal/oracle"
	"nestoracle/internal/paas"
	"nestoracle/internal/policy"
	"nestoracle/internal/repository"
	gormrepository "nestoracle/internal/repository/gorm"
	"nestoracle/internal/repository/memory"
	"nestoracle/internal/service"
	"nestoracle/internal/telemetry"
	"nestoracle/internal/transfer"
	"nestoracle/internal/voting"

	_ "nestoracle/docs"
)

func main() {
	cfgPath := os.Getenv("NEST_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("NEST_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Warn("telemetry setup failed (tracing disabled)", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	var (
		store  repository.Repository
		dbConn *db.DB
	)
	if strings.EqualFold(cfg.DB.Driver, "memory") {
		logger.Warn("using in-memory store; state is lost on restart")
		store = memory.New()
	} else {
		dbConn, err = db.Open(cfg.DB)
		if err != nil {
			logger.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(dbConn)

		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			logger.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(dbConn); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
		store = gormrepository.New(dbConn.Gorm)
	}

	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(ctx); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	checks := map[string]func(context.Context) error{}
	var locker lock.Locker = lock.NewLocal()
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisLock := lock.NewRedis(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.KeyPrefix, cfg.Redis.LockTTL, cfg.Redis.LockWait, logger)
		defer redisLock.Close()
		if err := redisLock.Ping(ctx); err != nil {
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		checks["redis"] = redisLock.Ping
		locker = redisLock
	} else {
		logger.Info("redis not configured; locks are process-local")
	}

	pool := dispatch.NewPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, logger)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(ctx)
	}()

	var (
		ledger        *custody.Ledger
		oracleCustody custody.Custody
		votingCustody custody.Custody
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Custody.Mode)) {
	case "http":
		client := &http.Client{Timeout: cfg.Custody.Timeout}
		oracleCustody = &custody.HTTPClient{BaseURL: cfg.Custody.BaseURL, Token: cfg.Custody.Token, Account: cfg.Oracle.Account, HTTP: client}
		votingCustody = &custody.HTTPClient{BaseURL: cfg.Custody.BaseURL, Token: cfg.Custody.Token, Account: cfg.Voting.Account, HTTP: client}
		if strings.TrimSpace(cfg.Custody.NotifierAccount) == "" {
			logger.Warn("custody.notifier_account is empty; inbound transfer notifications will be refused")
		}
	default:
		logger.Warn("using in-process ledger; balances are lost on restart")
		ledger = custody.NewLedger()
		oracleCustody = ledger.Account(cfg.Oracle.Account)
		votingCustody = ledger.Account(cfg.Voting.Account)
	}

	hub := events.NewHub()
	emitter := &events.Emitter{Repo: store, Hub: hub, Logger: logger}

	votingOutbox := &transfer.Outbox{
		Component:  events.ComponentVoting,
		Repo:       store,
		Custody:    votingCustody,
		Dispatcher: pool,
		Logger:     logger,
	}
	engine := &voting.Engine{
		Repo:     store,
		Locker:   locker,
		Events:   emitter,
		Outbox:   votingOutbox,
		Logger:   logger,
		Defaults: voting.ConfigFromSettings(cfg.Voting),
	}
	if _, err := engine.EnsureConfig(ctx); err != nil {
		logger.Fatal("voting config init failed", zap.Error(err))
	}

	policies := &policy.Directory{Repo: store, Locker: locker, Events: emitter, Logger: logger}

	oracleDefaults, err := oracle.ConfigFromSettings(cfg.Oracle)
	if err != nil {
		logger.Fatal("invalid oracle config", zap.Error(err))
	}
	oracleOutbox := &transfer.Outbox{
		Component:  events.ComponentOracle,
		Repo:       store,
		Custody:    oracleCustody,
		Dispatcher: pool,
		Logger:     logger,
	}
	oracleSvc := &oracle.Service{
		Repo:       store,
		Locker:     locker,
		Events:     emitter,
		Outbox:     oracleOutbox,
		Dispatcher: pool,
		Policies:   policies,
		Voting:     engine,
		Callbacks: &callback.Webhook{
			URLs:   cfg.Callbacks.Recipients,
			Token:  cfg.Callbacks.Token,
			Logger: logger,
			HTTP:   &http.Client{Timeout: cfg.Callbacks.Timeout},
		},
		Account:  cfg.Oracle.Account,
		Logger:   logger,
		Defaults: oracleDefaults,
	}
	if _, err := oracleSvc.EnsureConfig(ctx); err != nil {
		logger.Fatal("oracle config init failed", zap.Error(err))
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(paas.RequestIDMiddleware())
	router.Use(corsMiddleware())

	paasClient := initPaaSClient(logger)
	router.Use(paas.RequireBearerMiddleware(paas.AuthOptionsFromEnv()))
	router.Use(paas.InjectClientMiddleware(paasClient))
	router.Use(paas.PaaSWriteAuditMiddleware(paasClient, logger))

	if cfg.RateLimit.Enabled {
		limiter := handler.NewRateLimiter(cfg.RateLimit)
		go limiter.Run(ctx)
		router.Use(limiter.Middleware())
	}

	healthHandler := &handler.HealthHandler{Checks: checks}
	if dbConn != nil {
		healthHandler.DB = dbConn.Gorm
	}
	healthHandler.Register(router)
	paas.RegisterDocs(router)

	(&handler.OracleHandler{Oracle: oracleSvc, Logger: logger}).Register(router)
	(&handler.VotingHandler{Voting: engine, Logger: logger}).Register(router)
	(&handler.TransferHandler{
		Oracle:        oracleSvc,
		Voting:        engine,
		Ledger:        ledger,
		Notifier:      cfg.Custody.NotifierAccount,
		OracleAccount: cfg.Oracle.Account,
		VotingAccount: cfg.Voting.Account,
		AllowMint:     ledger != nil && strings.EqualFold(cfg.App.Env, "dev"),
		Logger:        logger,
	}).Register(router)
	(&handler.PolicyHandler{Directory: policies}).Register(router)
	(&handler.EventHandler{Repo: store, Hub: hub, Logger: logger}).Register(router)
	(&handler.SettingsHandler{Repo: store, Settings: settingsSvc}).Register(router)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	baseCtx := ctx
	if paasClient != nil {
		baseCtx = paas.WithClient(ctx, paasClient)
	}

	cronRunner := cronrunner.New(logger, baseCtx)
	if cfg.Cron.Enabled {
		k := &keeper.Keeper{
			Oracle:   oracleSvc,
			Voting:   engine,
			Outboxes: []*transfer.Outbox{oracleOutbox, votingOutbox},
			Flags:    settingsSvc,
			Logger:   logger,
		}
		if err := k.Register(cronRunner, cfg.Cron); err != nil {
			logger.Warn("cron register keeper jobs failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		logger.Warn("dispatch pool did not drain before shutdown deadline")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,"+handler.AccountHeader+","+paas.RequestIDHeader)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func initPaaSClient(logger *zap.Logger) *paas.Client {
	base := strings.TrimSpace(os.Getenv("EASYWEB3_API_BASE"))
	apiKey := strings.TrimSpace(os.Getenv("EASYWEB3_API_KEY"))
	if base == "" || apiKey == "" {
		return nil
	}

	p := &paas.Client{BaseURL: base, APIKey: apiKey}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Login(ctx); err != nil {
		if logger != nil {
			logger.Warn("paas login failed (logs/notify disabled)", zap.Error(err))
		}
		return nil
	}
	if logger != nil {
		logger.Info("paas login ok")
	}
	return p
}
