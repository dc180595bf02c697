package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/playgambit/coordinator/internal/api"
	"github.com/playgambit/coordinator/internal/config"
	"github.com/playgambit/coordinator/internal/database"
	"github.com/playgambit/coordinator/internal/feed"
	"github.com/playgambit/coordinator/internal/matchmaking"
	"github.com/playgambit/coordinator/internal/migrations"
	"github.com/playgambit/coordinator/internal/mux"
	"github.com/playgambit/coordinator/internal/redis"
	"github.com/playgambit/coordinator/internal/store"
	"github.com/playgambit/coordinator/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database (the repository collaborator)
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	repo := store.NewPostgres(db)

	// Initialize the change feed; without Redis the multiplexer degrades to
	// polling the repository.
	var feedClient feed.Client
	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Printf("[FEED] Redis unavailable, live subscriptions disabled: %v", err)
	} else {
		defer rdb.Close()
		feedClient = feed.NewRedisClient(rdb)
	}

	// Connection multiplexer and matchmaking coordinator
	m := mux.New(feedClient, repo, cfg)
	coord := matchmaking.New(repo, m, cfg)

	// Event bridge for local UI surfaces
	bridge := ws.NewBridge()
	detach := bridge.Attach(m)
	defer detach()

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	api.SetupRoutes(router, m, coord, bridge, cfg)

	port := cfg.Port
	if port == "" {
		port = "8090"
	}

	log.Printf("Starting PlayGambit agent on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}
}
