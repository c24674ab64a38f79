package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/donorlog/donorlog/internal/handlers"
	"github.com/donorlog/donorlog/internal/middleware"
	"github.com/donorlog/donorlog/internal/repositories"
	"github.com/donorlog/donorlog/internal/services"
	"github.com/donorlog/donorlog/internal/workers"
	"github.com/donorlog/donorlog/pkg/config"
	"github.com/donorlog/donorlog/pkg/database"
	"github.com/donorlog/donorlog/pkg/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Logging.Level)
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize dependencies
	providerTimeout := time.Duration(cfg.Server.ProviderTimeout) * time.Second
	githubService := services.NewGitHubService(cfg.GitHub, providerTimeout)
	opencollectiveService := services.NewOpenCollectiveService(cfg.OpenCollective, providerTimeout)

	userRepo := repositories.NewUserRepository(db)
	rankingRepo := repositories.NewRankingRepository(db)
	userService := services.NewUserService(userRepo)
	rankingService := services.NewRankingService(rankingRepo)
	sponsorshipService := services.NewSponsorshipService(userRepo, githubService, opencollectiveService)
	sessions := middleware.NewSessionManager(cfg.Session)

	// Initialize worker manager
	refreshInterval := time.Duration(cfg.Ranking.RefreshInterval) * time.Second
	workerManager := workers.NewWorkerManager(
		workers.NewRankingWorker("ranking-1", rankingService, refreshInterval),
	)

	// Initialize router
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(cfg.Server),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(sessions.Middleware())

	setupRoutes(router, routeDeps{
		cfg:                cfg,
		db:                 db,
		sessions:           sessions,
		userService:        userService,
		rankingService:     rankingService,
		sponsorshipService: sponsorshipService,
		github:             githubService,
		opencollective:     opencollectiveService,
	})

	// Start workers
	if err := workerManager.StartAll(); err != nil {
		logger.Fatalf("Failed to start workers: %v", err)
	}
	defer workerManager.StopAll()

	// Setup server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Infof("Server starting on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	logger.Infof("Server stopped")
}

// allowedOrigins defaults CORS to the application's own origin.
func allowedOrigins(cfg config.ServerConfig) []string {
	if len(cfg.AllowedOrigins) > 0 {
		return cfg.AllowedOrigins
	}
	return []string{cfg.AppDomain}
}

type routeDeps struct {
	cfg                *config.Config
	db                 *database.DB
	sessions           *middleware.SessionManager
	userService        *services.UserService
	rankingService     *services.RankingService
	sponsorshipService *services.SponsorshipService
	github             services.OAuthProvider
	opencollective     services.OAuthProvider
}

func setupRoutes(router *gin.Engine, deps routeDeps) {
	// Initialize handlers
	homeHandler := handlers.NewHomeHandler(deps.sponsorshipService, deps.rankingService, deps.sessions, deps.cfg.Ranking.LeaderboardSize)
	authHandler := handlers.NewAuthHandler(deps.userService, deps.sessions, deps.cfg.Server.AppDomain, deps.cfg.Session.Secure)
	usersHandler := handlers.NewUsersHandler(deps.sponsorshipService)
	profileHandler := handlers.NewProfileHandler(deps.userService, deps.sponsorshipService, deps.sessions)
	exportHandler := handlers.NewExportHandler(deps.rankingService)
	healthHandler := handlers.NewHealthHandler(deps.db)
	notFoundHandler := handlers.NewNotFoundHandler()

	// Home page
	router.GET("/", homeHandler.Index)

	// Auth routes
	router.GET("/login/github", authHandler.Login(deps.github))
	router.GET("/login/opencollective", authHandler.Login(deps.opencollective))
	router.GET(config.GitHubRedirectPath, authHandler.Callback(deps.github))
	router.GET(config.OpenCollectiveRedirectPath, authHandler.Callback(deps.opencollective))
	router.GET("/logout", authHandler.Logout)

	router.GET("/users/:username", usersHandler.Overview)
	router.GET("/leaderboard/export", exportHandler.Leaderboard)

	// Protected routes
	profile := router.Group("/profile")
	profile.Use(middleware.AuthRequired(handlers.LoginToViewProfile))
	{
		profile.GET("", profileHandler.Profile)
		profile.POST("/username", profileHandler.UpdateUsername)
	}

	// Health check endpoint
	router.GET("/health", healthHandler.HealthCheck)
	router.NoRoute(notFoundHandler.NotFound)
}
