package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"nse-signal-engine/storage"
)

// One-shot database bootstrap: runs the migrations and seeds the operator
// config row so the engine starts with sane defaults on a fresh box.
//
//	go run scripts/db_setup.go
func main() {
	godotenv.Load()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "data/signals.db"
	}

	fmt.Printf("🔌 Opening %s...\n", dbPath)
	db, err := storage.New(dbPath)
	if err != nil {
		fmt.Printf("❌ Open failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	fmt.Println("✅ Migrations applied")

	cfg, err := db.GetOrCreateUserConfig(storage.UserConfig{
		Capital:         decimal.NewFromInt(100000),
		MaxPositions:    3,
		MaxRiskPct:      3.0,
		SignalExpiryMin: 30,
		GapAllocPct:     100.0 / 3,
		ORBAllocPct:     100.0 / 3,
		VWAPAllocPct:    100.0 / 3,
	})
	if err != nil {
		fmt.Printf("❌ Config seed failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n📋 Operator config:")
	fmt.Printf("  capital:       ₹%s\n", cfg.Capital.StringFixed(0))
	fmt.Printf("  max positions: %d\n", cfg.MaxPositions)
	fmt.Printf("  max risk:      %.1f%%\n", cfg.MaxRiskPct)
	fmt.Printf("  expiry:        %d min\n", cfg.SignalExpiryMin)
	fmt.Printf("  allocations:   GAP %.1f%% / ORB %.1f%% / VWAP %.1f%%\n",
		cfg.GapAllocPct, cfg.ORBAllocPct, cfg.VWAPAllocPct)

	fmt.Println("\n🎉 Database ready")
}
