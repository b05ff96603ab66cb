package main

import (
	"context"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/migratehub/backend/internal/application/services"
	"github.com/migratehub/backend/internal/bootstrap"
	"github.com/migratehub/backend/internal/infrastructure/database"
	"github.com/migratehub/backend/internal/interfaces/middleware"
	"github.com/migratehub/backend/internal/interfaces/rest"
	"github.com/migratehub/backend/pkg/auth"
	"github.com/migratehub/backend/pkg/constants"
)

func main() {
	// Load .env
	// Try multiple paths
	paths := []string{"../.env", ".env", "../../.env"}
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			log.Printf("Loaded .env from %s", p)
			break
		}
	}

	// Get port from environment
	port := os.Getenv("PORT")
	if port == "" {
		port = "3002" // Default MigrateHub orchestrator port
	}

	staleAfter := time.Duration(constants.DefaultStaleFlowHours) * time.Hour
	if raw := os.Getenv("STALE_FLOW_HOURS"); raw != "" {
		if hours, err := strconv.Atoi(raw); err == nil && hours > 0 {
			staleAfter = time.Duration(hours) * time.Hour
		} else {
			log.Printf("⚠️  Invalid STALE_FLOW_HOURS %q, using default %dh", raw, constants.DefaultStaleFlowHours)
		}
	}

	// Initialize database connection
	db, err := database.GetInstance()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✅ Database connection established")

	// Create orchestration tables if they do not exist yet
	if err := bootstrap.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Initialize service manager
	svcMgr, err := services.NewServiceManager(db, staleAfter)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	log.Println("🔧 Service manager initialized")

	// Create Gin router
	router := gin.Default()

	// CORS middleware - Allow credentials from any origin
	router.Use(middleware.Cors())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"server": "golang",
		})
	})

	// Debug/pprof endpoints for goroutine debugging
	// Access: http://localhost:3002/debug/pprof/
	debug := router.Group("/debug/pprof")
	{
		debug.GET("/", gin.WrapF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/debug/pprof/", http.StatusMovedPermanently)
		})))
		debug.GET("/goroutine", gin.WrapH(http.DefaultServeMux))
		debug.GET("/heap", gin.WrapH(http.DefaultServeMux))
		debug.GET("/profile", gin.WrapH(http.DefaultServeMux))
		debug.GET("/trace", gin.WrapH(http.DefaultServeMux))
	}

	// All flow APIs require an authenticated tenant session: a user JWT
	// or a tenant-scoped executor API key
	api := router.Group("/api")
	api.Use(middleware.RequireAuth(loadExecutorKeys()))

	flowHandler := rest.NewFlowHandler(svcMgr.Orchestrator)
	flowHandler.RegisterRoutes(api)

	operatorHandler := rest.NewOperatorHandler(svcMgr.Scheduler)
	operatorHandler.RegisterRoutes(api)

	// Start background workers (outbox relay + stale-flow sweep)
	if err := svcMgr.StartWorkers(); err != nil {
		log.Fatalf("Failed to start background workers: %v", err)
	}
	log.Println("📤 Outbox event worker started (500ms polling)")
	log.Printf("⏰ Stale-flow scheduler started (sweep %s, stale after %s)", constants.SchedulerSweepSpec, staleAfter)

	// Start server
	log.Println("\n═══════════════════════════════════════════════════════════════════════════")
	log.Println("🚀 MigrateHub Orchestrator Started Successfully")
	log.Println("═══════════════════════════════════════════════════════════════════════════")
	log.Printf("\n📍 Server:         http://localhost:%s", port)
	log.Printf("🔀 Flows API:      http://localhost:%s/api/flows", port)
	log.Printf("💚 Health check:   http://localhost:%s/health\n", port)

	// Create HTTP Server
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stop background workers before draining in-flight requests
	svcMgr.StopWorkers()
	log.Println("🛑 Background workers stopped")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Println("Server exiting")
}

// loadExecutorKeys reads EXECUTOR_API_KEYS, a comma-separated list of
// tenant:sub_tenant:bcrypt-hash entries (bcrypt hashes contain no
// colons). Returns nil when the variable is unset, which disables the
// executor API-key path entirely.
func loadExecutorKeys() *auth.APIKeyRegistry {
	raw := os.Getenv("EXECUTOR_API_KEYS")
	if raw == "" {
		return nil
	}

	registry := auth.NewAPIKeyRegistry()
	count := 0
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			log.Printf("⚠️  Skipping malformed EXECUTOR_API_KEYS entry %q", entry)
			continue
		}
		registry.Register(parts[0], parts[1], parts[2])
		count++
	}
	log.Printf("🔑 Loaded %d executor API key(s)", count)
	return registry
}
