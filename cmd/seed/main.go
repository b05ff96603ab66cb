package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/migratehub/backend/internal/application/services"
	"github.com/migratehub/backend/internal/bootstrap"
	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/internal/infrastructure/database"
	"github.com/migratehub/backend/pkg/auth"
	"github.com/migratehub/backend/pkg/constants"
)

// Seeds a demo tenant with a few flows in interesting states and prints
// the credentials needed to drive them: an operator session token and an
// executor API key for phase callbacks.
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

	tenantID := os.Getenv("SEED_TENANT")
	if tenantID == "" {
		tenantID = "demo"
	}
	subTenantID := os.Getenv("SEED_SUB_TENANT")
	if subTenantID == "" {
		subTenantID = "sandbox"
	}
	scope := models.TenantScope{TenantID: tenantID, SubTenantID: subTenantID}

	db, err := database.GetInstance()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✅ Database connection established")

	if err := bootstrap.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	staleAfter := time.Duration(constants.DefaultStaleFlowHours) * time.Hour
	svcMgr, err := services.NewServiceManager(db, staleAfter)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	ctx := context.Background()
	svc := svcMgr.Orchestrator

	// One fresh flow per area, plus a discovery flow mid-phase so the
	// status endpoints have something to show
	discoveryID, err := svc.Initialize(ctx, scope, constants.FlowTypeDiscovery)
	if err != nil {
		log.Fatalf("Failed to create discovery flow: %v", err)
	}
	if _, _, err := svc.BeginPhase(ctx, scope, discoveryID, "inventory", constants.ActorSystem); err != nil {
		log.Fatalf("Failed to begin inventory phase: %v", err)
	}

	assessmentID, err := svc.Initialize(ctx, scope, constants.FlowTypeAssessment)
	if err != nil {
		log.Fatalf("Failed to create assessment flow: %v", err)
	}

	collectionID, err := svc.Initialize(ctx, scope, constants.FlowTypeCollection)
	if err != nil {
		log.Fatalf("Failed to create collection flow: %v", err)
	}

	log.Printf("🌱 Seeded tenant %s/%s:", tenantID, subTenantID)
	log.Printf("   discovery  %s (inventory IN_PROGRESS)", discoveryID)
	log.Printf("   assessment %s", assessmentID)
	log.Printf("   collection %s", collectionID)

	// Operator session for the seeded tenant
	token, err := auth.GenerateToken(auth.UserSession{
		ID:          "seed-admin",
		Name:        "Seed Admin",
		TenantID:    tenantID,
		SubTenantID: subTenantID,
		IsOperator:  true,
	})
	if err != nil {
		log.Fatalf("Failed to generate session token: %v", err)
	}

	// Executor API key for phase begin/complete callbacks. Only the
	// bcrypt hash goes into server config; the key itself is shown once.
	apiKey := "mh_" + tenantID + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := auth.ValidateAPIKeyFormat(apiKey); err != nil {
		log.Fatalf("Generated API key has invalid format: %v", err)
	}
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		log.Fatalf("Failed to hash API key: %v", err)
	}

	log.Println("\n🔐 Session token (Authorization: Bearer ...):")
	log.Println(token)
	log.Println("\n🔑 Executor API key (shown once, store it now):")
	log.Println(apiKey)
	log.Println("\nAdd to the server environment:")
	log.Printf("EXECUTOR_API_KEYS=%s:%s:%s", tenantID, subTenantID, hash)
}
