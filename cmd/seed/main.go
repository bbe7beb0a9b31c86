package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"genforge/internal/config"
	pg "genforge/internal/infra/db/postgres"
	"genforge/internal/infra/logging"
	"genforge/internal/usecase"
)

// seed upserts the pricing rules declared under models[].pricing so a fresh
// database can quote requests immediately.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	force := flag.Bool("force", false, "overwrite pricing rows that already exist")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	pricingUC := usecase.NewPricingUseCase(pg.NewModelPricingRepo(pool), pg.NewTxManager(pool), logger)

	existing, err := pricingUC.List(ctx)
	if err != nil {
		log.Fatalf("list pricing: %v", err)
	}
	have := make(map[string]bool, len(existing))
	for _, p := range existing {
		have[p.ModelKey] = true
	}

	var seeded, skipped int
	for _, m := range cfg.Models {
		if m.Pricing == nil {
			continue
		}
		if have[m.Key] && !*force {
			skipped++
			continue
		}
		p, err := pricingUC.Upsert(ctx, m.Key, *m.Pricing)
		if err != nil {
			log.Fatalf("upsert %s: %v", m.Key, err)
		}
		seeded++
		fmt.Printf("  - %s: mode=%s\n", p.ModelKey, p.Rule.Mode)
	}
	fmt.Printf("Seeded %d pricing rules (%d already present).\n", seeded, skipped)
}
