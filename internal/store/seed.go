package store

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"crackerpos/backend/internal/domain"
)

// SeedProducts is the demo catalog loaded into an empty store.
func SeedProducts() []domain.Product {
	return []domain.Product{
		{Code: "SPK1", Name: "Sparklers 10cm", Category: "SPARKLERS", Price: decimal.RequireFromString("10.00"), Stock: 5},
		{Code: "SPK2", Name: "Sparklers 30cm Electric", Category: "SPARKLERS", Price: decimal.RequireFromString("45.00"), Stock: 40},
		{Code: "FLP1", Name: "Flower Pots Big", Category: "FLOWERPOTS", Price: decimal.RequireFromString("120.00"), Stock: 25, DiscountPercent: decimal.NewFromInt(10)},
		{Code: "CHK1", Name: "Ground Chakkar", Category: "CHAKKARS", Price: decimal.RequireFromString("80.50"), Stock: 60},
		{Code: "RKT1", Name: "Rocket Whistling", Category: "ROCKETS", Price: decimal.RequireFromString("150.00"), Stock: 8},
		{Code: "BMB1", Name: "Atom Bomb", Category: "BOMBS", Price: decimal.RequireFromString("65.00"), Stock: 30, DiscountPercent: decimal.NewFromInt(5)},
	}
}

func SeedCategories() []domain.Category {
	return []domain.Category{
		{Code: "SPARKLERS", Name: "Sparklers", Description: "Hand held sparklers"},
		{Code: "FLOWERPOTS", Name: "Flower Pots", Description: "Ground fountains"},
		{Code: "CHAKKARS", Name: "Chakkars", Description: "Spinning ground wheels"},
		{Code: "ROCKETS", Name: "Rockets", Description: "Aerial rockets"},
		{Code: "BOMBS", Name: "Bombs", Description: "Sound crackers"},
	}
}

// SeedUsers builds the first-boot admin and staff accounts with bcrypt
// hashes. Passwords come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD and
// fall back to dev defaults; usingDefaults reports whether any fallback was used.
func SeedUsers() (users []domain.UserAccount, usingDefaults bool, err error) {
	adminPwd, adminDefault := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd, staffDefault := envOr("SEED_STAFF_PASSWORD", "staff123")

	now := time.Now().UTC()
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, false, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users = append(users, domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users, adminDefault || staffDefault, nil
}

func envOr(key, fallback string) (string, bool) {
	if v := os.Getenv(key); v != "" {
		return v, false
	}
	return fallback, true
}
