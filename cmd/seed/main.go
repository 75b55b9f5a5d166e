package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Wikid82/warden/internal/api/middleware"
	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	fmt.Println("✓ Database migrated successfully")

	ctx := context.Background()
	users := services.NewUserService(db)
	seedUsers := []models.User{
		{Username: "admin", Email: "admin@example.com", Role: models.RoleAdmin},
		{Username: "operator", Email: "operator@example.com", Role: models.RoleOperator},
		{Username: "alice", Email: "alice@example.com", Role: models.RoleOperator},
	}
	for i := range seedUsers {
		u, err := users.Ensure(ctx, &seedUsers[i])
		if err != nil {
			log.Fatalf("Failed to seed user %s: %v", seedUsers[i].Username, err)
		}
		seedUsers[i] = *u
		fmt.Printf("✓ User %s (id %d, role %s)\n", u.Username, u.ID, u.Role)
	}

	created, err := services.NewRuleService(db).SeedDefaults(ctx)
	if err != nil {
		log.Fatal("Failed to seed response rules:", err)
	}
	fmt.Printf("✓ %d default response rules created\n", created)

	if cfg.JWTSecret == "" {
		fmt.Println("\nSet WARDEN_JWT_SECRET to print bearer tokens for the seeded users.")
		return
	}
	fmt.Println("\nBearer tokens (valid 24h):")
	for _, u := range seedUsers {
		token, err := middleware.IssueToken(cfg.JWTSecret, u.ID, u.Role, "", 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to issue token for %s: %v", u.Username, err)
		}
		fmt.Printf("  %-9s %s\n", u.Username, token)
	}
}
