package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Seeds two pricing profiles, one tiered and one formula based, and
// optionally assigns the tiered profile to a user passed via -user.
func main() {
	_ = godotenv.Load()

	userID := flag.String("user", "", "user id to assign the tiered profile to")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	tieredID := seedTieredProfile(ctx, pool)
	seedFormulaProfile(ctx, pool)

	if *userID != "" {
		assign(ctx, pool, *userID, tieredID)
	}
	log.Println("seed complete")
}

func seedTieredProfile(ctx context.Context, pool *pgxpool.Pool) string {
	var id string
	err := pool.QueryRow(ctx, `SELECT id FROM pricing_profiles WHERE name = $1`, "Standard Tiered").Scan(&id)
	if err == nil {
		log.Println("tiered profile already present")
		return id
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO pricing_profiles (name, description, is_tiered, is_active)
		VALUES ($1, $2, TRUE, TRUE)
		RETURNING id`,
		"Standard Tiered", "Default tiered plan for resellers").Scan(&id)
	if err != nil {
		log.Fatalf("insert tiered profile: %v", err)
	}
	tiers := []struct {
		gb    string
		price string
	}{
		{"1", "6.00"},
		{"2", "11.00"},
		{"5", "26.00"},
		{"10", "48.00"},
		{"20", "92.00"},
	}
	for _, tier := range tiers {
		gb := decimal.RequireFromString(tier.gb)
		price := decimal.RequireFromString(tier.price)
		if _, err := pool.Exec(ctx, `
			INSERT INTO pricing_tiers (profile_id, data_gb, price)
			VALUES ($1, $2, $3)
			ON CONFLICT (profile_id, data_gb) DO NOTHING`, id, gb, price); err != nil {
			log.Fatalf("insert tier %s: %v", tier.gb, err)
		}
	}
	log.Printf("seeded tiered profile %s", id)
	return id
}

func seedFormulaProfile(ctx context.Context, pool *pgxpool.Pool) {
	var id string
	err := pool.QueryRow(ctx, `SELECT id FROM pricing_profiles WHERE name = $1`, "Flexible Formula").Scan(&id)
	if err == nil {
		log.Println("formula profile already present")
		return
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO pricing_profiles (name, description, is_tiered, base_price, data_price_per_gb, minimum_charge, is_active)
		VALUES ($1, $2, FALSE, $3, $4, $5, TRUE)
		RETURNING id`,
		"Flexible Formula", "Per-GB plan for odd allocation sizes",
		decimal.RequireFromString("2.00"),
		decimal.RequireFromString("4.50"),
		decimal.RequireFromString("5.00")).Scan(&id)
	if err != nil {
		log.Fatalf("insert formula profile: %v", err)
	}
	log.Printf("seeded formula profile %s", id)
}

func assign(ctx context.Context, pool *pgxpool.Pool, userID, profileID string) {
	_, err := pool.Exec(ctx, `
		INSERT INTO user_pricing_profiles (user_id, profile_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET profile_id = EXCLUDED.profile_id, assigned_at = now()`,
		userID, profileID)
	if err != nil {
		log.Fatalf("assign profile: %v", err)
	}
	log.Printf("assigned profile %s to user %s", profileID, userID)
}
