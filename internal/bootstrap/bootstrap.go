package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	appControllers "github.com/yigit/hackhub/internal/app/controllers"
	appMigrations "github.com/yigit/hackhub/internal/app/migrations"
	appRoutes "github.com/yigit/hackhub/internal/app/routes"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/backend/memory"
	"github.com/yigit/hackhub/internal/backend/postgres"
	"github.com/yigit/hackhub/internal/config"
	"github.com/yigit/hackhub/internal/db"
	appMiddleware "github.com/yigit/hackhub/internal/middleware"
	pkgAuth "github.com/yigit/hackhub/internal/pkg/auth"
	"github.com/yigit/hackhub/internal/pkg/helpers"
	"github.com/yigit/hackhub/internal/pkg/logger"
	"github.com/yigit/hackhub/internal/pkg/websocket"
	"github.com/yigit/hackhub/internal/registry"
	"github.com/yigit/hackhub/internal/seed"
	"github.com/yigit/hackhub/internal/session"
)

// Dependencies holds all the application dependencies
type Dependencies struct {
	Backend        backend.Backend
	Database       *db.PostgresDB // nil with the memory driver
	JWTService     *pkgAuth.JWTService
	AuthMiddleware *appMiddleware.AuthMiddleware
	Hub            *websocket.Hub
	Sessions       *session.Manager
	Controllers    appRoutes.Controllers
	Logger         zerolog.Logger

	closeBackend func()
}

// Close releases the sessions and the backend. The hub stops with the
// context passed to its Run.
func (d *Dependencies) Close() error {
	err := d.Sessions.Close()
	if d.closeBackend != nil {
		d.closeBackend()
	}
	return err
}

// LoadConfigAndSetupLogger loads configuration and initializes the logger.
func LoadConfigAndSetupLogger(configPath string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error().Err(err).Str("path", configPath).Msg("Failed to load configuration")
		return nil, zerolog.Logger{}, err
	}

	logLevel := logger.ParseLevel(cfg.Logging.Level)
	logger.Configure(logger.Config{
		Level:  logLevel,
		Pretty: strings.ToLower(cfg.Logging.Format) == "text",
	})

	lgr := log.Logger
	lgr.Info().Str("logLevel", string(logLevel)).Str("logFormat", cfg.Logging.Format).Msg("Logger configured")
	return cfg, lgr, nil
}

// ConnectDatabase opens the PostgreSQL pool
func ConnectDatabase(ctx context.Context, cfg *config.Config, lgr zerolog.Logger) (*db.PostgresDB, error) {
	lgr.Info().Msg("Establishing database connection...")
	database, err := db.NewPostgresDB(ctx, cfg)
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to connect to database")
		return nil, err
	}
	lgr.Info().Msg("Database connection successfully established.")
	return database, nil
}

// RunMigrations applies pending migrations from the configured directory,
// or from the embedded set when the directory is absent.
func RunMigrations(ctx context.Context, cfg *config.Config, database *db.PostgresDB, lgr zerolog.Logger) error {
	lgr.Info().Msg("Running database migrations...")
	migrator := appMigrations.NewMigrator(database.Pool)
	applied, err := migrator.Migrate(ctx, appMigrations.Source(cfg.Database.MigrationsDir))
	if err != nil {
		lgr.Error().Err(err).Msg("Database migration error")
		return fmt.Errorf("database migrations failed: %w", err)
	}
	lgr.Info().Int("applied", applied).Msg("Database migrations successfully applied.")
	return nil
}

// SetupBackend builds the data service selected by backend.driver. The
// postgres driver connects, migrates and seeds; the memory driver only
// seeds, including a demo user to sign in with.
func SetupBackend(ctx context.Context, cfg *config.Config, lgr zerolog.Logger) (backend.Backend, *db.PostgresDB, func(), error) {
	switch cfg.Backend.Driver {
	case config.DriverMemory:
		lgr.Warn().Msg("Using in-memory backend; data is lost on exit")
		mem := memory.New()
		if err := seed.CreateDefaultData(ctx, mem, true, lgr); err != nil {
			lgr.Error().Err(err).Msg("Failed to create default data, proceeding anyway...")
		}
		return mem, nil, mem.Close, nil

	default:
		database, err := ConnectDatabase(ctx, cfg, lgr)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := RunMigrations(ctx, cfg, database, lgr); err != nil {
			database.Close()
			return nil, nil, nil, err
		}
		be := postgres.New(database, cfg.Realtime.Channel, cfg.Realtime.BufferSize)
		if err := seed.CreateDefaultData(ctx, be, false, lgr); err != nil {
			lgr.Error().Err(err).Msg("Failed to create default data, proceeding anyway...")
		}
		return be, database, database.Close, nil
	}
}

// BuildDependencies initializes the token service, the websocket hub, the
// per-user session manager and the controllers.
func BuildDependencies(cfg *config.Config, be backend.Backend, lgr zerolog.Logger) *Dependencies {
	deps := &Dependencies{Backend: be, Logger: lgr}

	deps.JWTService = pkgAuth.NewJWTService(pkgAuth.JWTConfig{
		SecretKey:   cfg.JWT.Secret,
		TokenIssuer: cfg.JWT.Issuer,
	})
	deps.AuthMiddleware = appMiddleware.NewAuthMiddleware(deps.JWTService)

	deps.Hub = websocket.NewHub(logger.Component("websocket"), cfg.Realtime.BufferSize)

	sessionLogger := logger.Component("session")
	deps.Sessions = session.NewManager(session.Config{
		Backend:      be,
		InFlightWait: helpers.ParseDuration(cfg.Mutation.InFlightWait, 10*time.Second),
		Publisher:    deps.Hub,
		Logger:       &sessionLogger,
	})

	deps.Controllers = appRoutes.Controllers{
		Auth:          appControllers.NewAuthController(deps.Sessions, deps.JWTService, logger.Component("auth")),
		Communities:   appControllers.NewContainerController(deps.Sessions, registry.Communities),
		Groups:        appControllers.NewContainerController(deps.Sessions, registry.Groups),
		Posts:         appControllers.NewPostController(deps.Sessions),
		Forums:        appControllers.NewForumController(deps.Sessions),
		Polls:         appControllers.NewPollController(deps.Sessions),
		Events:        appControllers.NewEventController(deps.Sessions),
		Messages:      appControllers.NewMessageController(deps.Sessions),
		Notifications: appControllers.NewNotificationController(deps.Sessions),
		Gamification:  appControllers.NewGamificationController(deps.Sessions),
		WebSocket:     websocket.NewHandler(deps.Hub, deps.Sessions, logger.Component("websocket")),
	}

	return deps
}

// SetupRouter configures the Gin engine with middleware and routes.
func SetupRouter(cfg *config.Config, deps *Dependencies, lgr zerolog.Logger) *gin.Engine {
	if strings.ToLower(cfg.Server.Mode) == "production" {
		gin.SetMode(gin.ReleaseMode)
		lgr.Info().Msg("Setting Gin mode to release")
	} else {
		gin.SetMode(gin.DebugMode)
		lgr.Info().Msg("Setting Gin mode to debug")
	}

	router := gin.New()
	router.Use(gin.Recovery(), appMiddleware.RequestLogger(logger.Component("http")))

	appRoutes.SetupRouter(router, deps.Controllers, deps.AuthMiddleware)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong", "status": "success"})
	})

	return router
}

// Setup runs the whole bootstrap sequence for the serve command
func Setup(ctx context.Context, cfg *config.Config, lgr zerolog.Logger) (*Dependencies, *gin.Engine, error) {
	be, database, closeBackend, err := SetupBackend(ctx, cfg, lgr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup backend: %w", err)
	}

	deps := BuildDependencies(cfg, be, lgr)
	deps.Database = database
	deps.closeBackend = closeBackend

	return deps, SetupRouter(cfg, deps, lgr), nil
}
