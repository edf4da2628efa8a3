package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sentinelmesh/trustplane/internal/anomaly"
	"github.com/sentinelmesh/trustplane/internal/api"
	"github.com/sentinelmesh/trustplane/internal/device"
	"github.com/sentinelmesh/trustplane/internal/factors"
	"github.com/sentinelmesh/trustplane/internal/ledger"
	"github.com/sentinelmesh/trustplane/internal/pipeline"
	"github.com/sentinelmesh/trustplane/internal/quarantine"
	"github.com/sentinelmesh/trustplane/internal/risk"
	"github.com/sentinelmesh/trustplane/internal/scoring"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("trustplaned exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("trustplane")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 50)
	viper.SetDefault("server.issuer_url", "")
	viper.SetDefault("server.admin_secret_hash", "")
	viper.SetDefault("server.token_signing_key", "")
	viper.SetDefault("server.token_ttl_seconds", 3600)
	viper.SetDefault("database.url", "")
	viper.SetDefault("quarantine.disable_url", "")
	viper.SetDefault("quarantine.disable_timeout", "10s")
	viper.SetDefault("factors.known_locations", []string{})
	viper.SetDefault("factors.min_firmware_version", "")
	viper.SetDefault("factors.revoked_firmware", []string{})
	viper.SetDefault("anomaly.window", 100)
	viper.SetDefault("ledger.retention_days", 0)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Storage ──────────────────────────────────────────────────────────────
	var (
		directory device.Directory
		store     ledger.Store
		events    quarantine.EventLog
	)
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		directory = device.NewPostgresDirectory(db)
		store = ledger.NewPostgresStore(db, logger)
		events = quarantine.NewPostgresEventLog(db)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		directory = device.NewMemoryDirectory()
		store = ledger.NewMemoryStore()
		events = quarantine.NewMemoryEventLog()
	}

	// ── Trust engine ─────────────────────────────────────────────────────────
	recorder := ledger.NewRecorder(store, logger)
	engine := scoring.NewEngine(directory, recorder, logger)

	var disabler quarantine.Disabler
	if disableURL := viper.GetString("quarantine.disable_url"); disableURL != "" {
		disabler = quarantine.NewHTTPDisabler(disableURL, viper.GetDuration("quarantine.disable_timeout"))
		logger.Info("quarantine disabler configured", zap.String("url", disableURL))
	} else {
		disabler = quarantine.NewNoopDisabler(logger)
		logger.Warn("no disable endpoint configured, quarantine is local-only")
	}

	manager := quarantine.NewManager(directory, disabler, events, logger)
	manager.SetMetricsRecorder(func(status quarantine.Status) {
		api.RecordQuarantineEvent(status.String())
	})
	engine.OnStatusChange(manager.HandleStatusChange)

	knownLocations := make(map[string]bool)
	for _, l := range viper.GetStringSlice("factors.known_locations") {
		knownLocations[l] = true
	}
	revokedFirmware := make(map[string]bool)
	for _, v := range viper.GetStringSlice("factors.revoked_firmware") {
		revokedFirmware[v] = true
	}
	evaluator := factors.NewEvaluator(factors.Config{
		KnownLocations:     knownLocations,
		MinFirmwareVersion: viper.GetString("factors.min_firmware_version"),
		RevokedFirmware:    revokedFirmware,
	})

	detector := anomaly.NewDetector(viper.GetInt("anomaly.window"))
	processor := pipeline.NewProcessor(directory, evaluator, detector, engine, logger)
	processor.SetMetricsRecorder(func(anomalyDetected bool) {
		if anomalyDetected {
			api.RecordAnomaly()
		}
	})

	analyzer := ledger.NewAnalyzer(store, directory, logger)
	assessor := risk.NewAssessor(directory, store, logger)

	// ── Operator auth ────────────────────────────────────────────────────────
	httpPort := viper.GetInt("server.port")
	issuerURL := viper.GetString("server.issuer_url")
	if issuerURL == "" {
		issuerURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	var tokens *api.TokenIssuer
	adminSecretHash := viper.GetString("server.admin_secret_hash")
	if adminSecretHash != "" {
		signingKey := viper.GetString("server.token_signing_key")
		if signingKey == "" {
			return fmt.Errorf("server.token_signing_key is required when server.admin_secret_hash is set")
		}
		tokenTTL := time.Duration(viper.GetInt("server.token_ttl_seconds")) * time.Second
		tokens = api.NewTokenIssuer([]byte(signingKey), issuerURL, tokenTTL)
	} else {
		logger.Warn("no admin secret configured, administrative routes are open")
	}

	telemetryHandler := api.NewTelemetryHandler(processor, logger)
	trustHandler := api.NewTrustHandler(directory, engine, tokens, logger)
	changesHandler := api.NewChangesHandler(store, analyzer, tokens, logger)
	riskHandler := api.NewRiskHandler(assessor, logger)
	quarantineHandler := api.NewQuarantineHandler(manager, tokens, logger)
	authHandler := api.NewAuthHandler(adminSecretHash, tokens, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	corsConfig := cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	rps := viper.GetInt("server.rate_limit_rps")
	if rps > 0 {
		router.Use(api.RateLimiter(rps, rps*2))
	}

	router.Use(requestLogger(logger))
	router.Use(api.PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", api.MetricsHandler())

	v1 := router.Group("/api/v1")
	telemetryHandler.Register(v1)
	trustHandler.Register(v1)
	changesHandler.Register(v1)
	riskHandler.Register(v1)
	quarantineHandler.Register(v1)
	authHandler.Register(v1)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// ── Background: ledger retention purge, daily ────────────────────────────
	if retentionDays := viper.GetInt("ledger.retention_days"); retentionDays > 0 {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
					cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
					purged, err := store.PurgeBefore(ctx, cutoff)
					if err != nil {
						logger.Warn("ledger retention purge error", zap.Error(err))
					} else if purged > 0 {
						logger.Info("ledger retention purge", zap.Int64("purged", purged))
					}
					cancel()
				case <-quit:
					return
				}
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("trustplane HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down trustplane...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("trustplane stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
