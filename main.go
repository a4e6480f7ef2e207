package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"billing-backend/billing"
	"billing-backend/config"
	"billing-backend/conn"
	"billing-backend/login"
	"billing-backend/migrations"
	"billing-backend/subscriptions"
	"billing-backend/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogger(cfg)

	db, err := conn.NewMySQL(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mysql")
	}
	defer db.Close()

	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.Use(corsMiddleware(cfg.ClientBaseURL()))
	r.GET("/healthz", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	userRepo := login.NewRepository(db)
	subRepo := subscriptions.NewRepository(db)
	stripeClient := billing.NewClient(cfg.Stripe.SecretKey)
	plans := billing.NewPlans(cfg.Stripe)

	login.NewHandler(userRepo).RegisterRoutes(r)

	billingSvc := billing.NewService(plans, userRepo, subRepo, stripeClient, cfg.ClientBaseURL())
	billing.NewHandler(billingSvc).RegisterRoutes(r)

	webhookSvc := webhooks.NewService(cfg.Stripe.WebhookSecret, stripeClient, webhooks.NewStore(db))
	webhooks.NewHandler(webhookSvc).RegisterRoutes(r)

	log.Info().Int("port", cfg.Port).Str("env", cfg.AppEnv).Msg("server running")
	if err := r.Run(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.AppEnv != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// corsMiddleware allows the browser client (the Vite dev server in
// development) to call the API directly.
func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
