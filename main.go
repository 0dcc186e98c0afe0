package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/manojkumarsharma/bookstore/config"
	"github.com/manojkumarsharma/bookstore/handlers"
	"github.com/manojkumarsharma/bookstore/logging"
	"github.com/manojkumarsharma/bookstore/metrics"
	"github.com/manojkumarsharma/bookstore/middleware"
	"github.com/manojkumarsharma/bookstore/service"
	"github.com/manojkumarsharma/bookstore/store"
	"github.com/manojkumarsharma/bookstore/utils"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logging.New(cfg)
	metrics.Init()
	started := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	db, err := store.NewMongoDB(connectCtx, cfg.MongoURI, cfg.DBName, log)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("mongodb")
	}
	defer func() {
		if err := db.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("mongodb disconnect")
		}
	}()
	if err := db.EnsureIndexes(ctx); err != nil {
		log.WithError(err).Fatal("mongodb indexes")
	}
	if created, err := db.EnsureDefaultAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.WithError(err).Error("could not seed default admin")
	} else if created {
		log.WithField("email", cfg.AdminEmail).Warn("default admin created; change its password")
	}

	files, uploadDir, err := fileStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("upload storage")
	}

	apiLimit, loginLimit, closeLimits, err := rateLimits(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("rate limiter")
	}
	defer closeLimits()

	sealer, err := utils.NewSealer(cfg.SettingsKey)
	if err != nil {
		log.WithError(err).Fatal("settings encryption key")
	}
	if !sealer.Enabled() {
		log.Warn("SETTINGS_ENCRYPTION_KEY not set; SMTP password will be stored unencrypted")
	}

	debug := !cfg.IsProduction()
	authn := middleware.NewAuthenticator(cfg.Secret(), cfg.JWTExpiresIn.Duration(), db, log, debug)
	mailer := service.NewMailer(db, db, sealer, cfg.FrontendURL, log)
	base := handlers.Base{Log: log, Debug: debug}
	secure := cfg.IsProduction()

	router := newRouter(api{
		Auth:   &handlers.AuthHandler{Base: base, Users: db, Tokens: authn, Mail: mailer, SecureCookies: secure},
		Users:  &handlers.UsersHandler{Base: base, Users: db},
		Admin:  &handlers.AdminHandler{Base: base, Admins: db, Tokens: authn, Stats: db, Settings: db, Sealer: sealer, SecureCookies: secure},
		Books:  &handlers.BooksHandler{Base: base, Books: db, Files: files, ISBN: service.NewISBNLookup(cfg.GoogleBooksURL)},
		Upload: &handlers.UploadHandler{Base: base, Files: files, Users: db},
		Cart:   &handlers.CartHandler{Base: base, Carts: db},
		Orders: &handlers.OrdersHandler{Base: base, Orders: db, Mail: mailer},
		System: &handlers.SystemHandler{Base: base, DB: db, Environment: cfg.Environment, Started: started},
		Authn:  authn,
		Limit:  apiLimit,
		Login:  loginLimit,

		Origins:    cfg.Origins(),
		UploadDir:  uploadDir,
		TrustProxy: cfg.TrustProxy,
		Production: cfg.IsProduction(),
		Debug:      debug,
	}, log)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "environment": cfg.Environment}).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}

// fileStore picks disk or S3 storage for uploads. The returned directory is non-empty for disk storage,
// whose files this process serves itself.
func fileStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (service.FileStore, string, error) {
	if cfg.UploadDriver == "s3" {
		s3, err := service.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3AccessKeyID, cfg.S3SecretKey, log)
		return s3, "", err
	}
	local, err := service.NewLocalStore(cfg.UploadDir, log)
	if err != nil {
		return nil, "", err
	}
	return local, local.Root(), nil
}

// rateLimits builds the API-wide and login limiters. With REDIS_ADDRESS set the windows are shared
// between instances; otherwise each limiter keeps its own in-memory store.
func rateLimits(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (apiLimit, loginLimit func(http.Handler) http.Handler, closeFn func(), err error) {
	closeFn = func() {}
	if !cfg.RateLimitEnabled {
		log.Warn("rate limiting disabled")
		return passthrough, passthrough, closeFn, nil
	}
	var apiStore, loginStore middleware.LimitStore
	if cfg.RedisAddress != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, err
		}
		log.WithField("address", cfg.RedisAddress).Info("rate limits shared through redis")
		rs := middleware.NewRedisStore(client)
		apiStore, loginStore = rs, rs
		closeFn = func() { client.Close() }
	} else {
		apiStore, loginStore = middleware.NewMemoryStore(), middleware.NewMemoryStore()
	}
	apiLimit = middleware.RateLimit(apiStore, "api", cfg.RateLimitWindow, cfg.RateLimitMax, log)
	loginLimit = middleware.RateLimit(loginStore, "login", cfg.RateLimitWindow, cfg.LoginRateLimitMax, log)
	return apiLimit, loginLimit, closeFn, nil
}
