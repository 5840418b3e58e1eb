package main

import (
	"fmt"
	"time"

	"github.com/tidegate/tidegate/internal/bus"
	"github.com/tidegate/tidegate/internal/metrics"
	"github.com/tidegate/tidegate/internal/router"
	"github.com/tidegate/tidegate/internal/subscription"
	"github.com/tidegate/tidegate/internal/transport"
	"github.com/tidegate/tidegate/internal/user"
	"github.com/tidegate/tidegate/pkg/auth"
	"github.com/tidegate/tidegate/pkg/config"
	"github.com/tidegate/tidegate/pkg/database"
	"github.com/tidegate/tidegate/pkg/logging"
	"github.com/tidegate/tidegate/pkg/monitoring"
	"github.com/tidegate/tidegate/pkg/server"
	"github.com/tidegate/tidegate/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("tidegate")
	config.LoadEnv(logger)

	logger.Info("Starting Tidegate (streaming gateway)")

	healthChecker := monitoring.NewHealthChecker("tidegate", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("tidegate", version.Version, version.GitCommit)
	routerMetrics := metrics.New(metricsCollector)

	busCfg := bus.Config{
		Host:     config.GetEnv("REDIS_HOST", "127.0.0.1"),
		Port:     config.GetEnv("REDIS_PORT", "6379"),
		Password: config.GetEnv("REDIS_PASSWORD", ""),
	}
	supervisor := bus.NewSupervisor(busCfg, 5, 10*time.Second)
	conn, err := supervisor.Connect()
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to the upstream bus")
	}

	healthChecker.AddCheck("bus", monitoring.BusHealthCheck(func() error {
		if !supervisor.Connected() {
			return fmt.Errorf("bus connection not established")
		}
		return nil
	}))

	routerCfg := router.Config{
		Namespace:    config.GetEnv("REDIS_NAMESPACE", ""),
		PollInterval: durationEnv("REDIS_POLL_INTERVAL", 100*time.Millisecond),
		CacheSize:    config.GetEnvInt("HASHTAG_CACHE_SIZE", 0),
	}
	r, err := router.New(routerCfg, conn, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to construct router")
	}
	r.SetMetrics(routerMetrics)

	var users user.Resolver
	if dsn := config.GetEnv("DATABASE_URL", ""); dsn != "" {
		dbCfg := database.DefaultConfig()
		dbCfg.URL = dsn
		db := database.MustConnect(dbCfg, logger)
		users = user.NewPostgresResolver(db)
		healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	} else {
		logger.Warn("DATABASE_URL not set; serving from an in-memory mock user resolver")
		users = user.NewMockResolver()
	}

	whitelistMode := config.GetEnvBool("WHITELIST_MODE", false)
	subs := subscription.NewResolver(users, whitelistMode)

	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"REDIS_HOST": busCfg.Host,
	}))

	transportServer := transport.NewServer(r, subs, logger, routerCfg.PollInterval)

	ginRouter := server.SetupServiceRouter(logger, "tidegate", healthChecker, metricsCollector)
	transportServer.RegisterRoutes(ginRouter)

	if secret := config.GetEnv("JWT_SECRET", ""); secret != "" {
		ginRouter.GET("/api/v1/admin/stats", auth.JWTAuthMiddleware([]byte(secret)), transportServer.StatsHandler)
	} else {
		logger.Warn("JWT_SECRET not set; admin stats endpoint disabled")
	}

	serverCfg := server.DefaultConfig("tidegate", "18080")
	if err := server.Start(serverCfg, ginRouter, logger); err != nil {
		logger.WithError(err).Error("HTTP server stopped with an error")
	}

	logger.Info("Shutting down router and bus connection")
	r.Shutdown()
	if err := conn.Close(); err != nil {
		logger.WithError(err).Warn("Error closing bus connection during shutdown")
	}
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	ms := config.GetEnvInt(key, 0)
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
