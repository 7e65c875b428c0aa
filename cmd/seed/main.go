package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xtrntr/settlement/internal/auth"
	"github.com/xtrntr/settlement/internal/config"
	"github.com/xtrntr/settlement/internal/db"
	"github.com/xtrntr/settlement/internal/state"
	"github.com/xtrntr/settlement/internal/token"
)

// Seed the database with schema and token balances, or print an operator
// password hash for OPERATORS.
func main() {
	envFile := flag.String("env", ".env", "optional .env file")
	migration := flag.String("migrate", "", "schema file to apply first, e.g. migrations/001_init.sql")
	mint := flag.String("mint", "", "comma separated account:SYMBOL:amount entries to credit")
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash for an operator password and exit")
	flag.Parse()

	if *hashPassword != "" {
		h, err := auth.HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println(h)
		return
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL is required for seeding")
	}

	ctx := context.Background()
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if *migration != "" {
		script, err := os.ReadFile(*migration)
		if err != nil {
			log.Fatalf("Failed to read migration: %v", err)
		}
		if err := database.Migrate(ctx, string(script)); err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Printf("Applied %s\n", *migration)
	}

	registry, err := token.NewRegistry(cfg.Tokens...)
	if err != nil {
		log.Fatalf("Invalid TOKENS: %v", err)
	}
	bySymbol := make(map[string]token.Token)
	for _, t := range registry.All() {
		bySymbol[strings.ToUpper(t.Symbol)] = t
	}
	bank := token.NewBank(registry)

	var credited int
	err = database.Atomic(ctx, func(tx state.Tx) error {
		for _, entry := range strings.Split(*mint, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			parts := strings.Split(entry, ":")
			if len(parts) != 3 || !common.IsHexAddress(parts[0]) {
				return fmt.Errorf("invalid mint entry %q", entry)
			}
			tok, ok := bySymbol[strings.ToUpper(parts[1])]
			if !ok {
				return fmt.Errorf("unknown token symbol %q", parts[1])
			}
			amount, err := token.ParseUnits(parts[2], tok.Decimals)
			if err != nil {
				return err
			}
			if err := bank.Mint(ctx, tx, tok.Address, common.HexToAddress(parts[0]), amount); err != nil {
				return err
			}
			credited++
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to seed balances: %v", err)
	}
	fmt.Printf("Credited %d balances\n", credited)
}
