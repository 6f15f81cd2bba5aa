package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/python-is-trash/westwallet-backend/internal/common"
	"github.com/python-is-trash/westwallet-backend/internal/config"
	"github.com/python-is-trash/westwallet-backend/internal/models"

	"go.uber.org/zap"
)

// seedPlans creates the plans from the file that do not exist yet, matched by name
func seedPlans(ctx context.Context, services *common.Services, plansFile string) {
	zap.L().Info("Loading investment plans", zap.String("file", plansFile))
	plans, err := common.LoadPlans(plansFile)
	if err != nil {
		zap.L().Fatal("Failed to load plans", zap.Error(err))
	}

	existing, err := services.Store.GetPlans(ctx, false)
	if err != nil {
		zap.L().Fatal("Failed to read plans from database", zap.Error(err))
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[p.Name] = true
	}

	created := 0
	for _, plan := range plans {
		if known[plan.Name] {
			zap.L().Info("Plan already exists", zap.String("name", plan.Name))
			continue
		}
		stored, err := services.Store.CreatePlan(ctx, plan)
		if err != nil {
			zap.L().Error("Error creating plan",
				zap.String("name", plan.Name),
				zap.Error(err))
			continue
		}
		created++
		zap.L().Info("Created plan",
			zap.String("id", stored.Id),
			zap.String("name", stored.Name),
			zap.String("daily_return", stored.DailyReturn.String()),
			zap.Int("duration_hours", stored.DurationHours),
			zap.Bool("locked", stored.Locked))
	}

	zap.L().Info("Plan seeding complete",
		zap.Int("in_file", len(plans)),
		zap.Int("created", created))
}

// generateAddresses makes sure every user has a static address for every scanned asset
func generateAddresses(ctx context.Context, services *common.Services) {
	users, err := services.Store.GetUsers(ctx)
	if err != nil {
		zap.L().Fatal("Failed to read users from database", zap.Error(err))
	}

	var total int
	var failed []string
	for _, user := range users {
		zap.L().Info("Processing user",
			zap.String("id", user.Id),
			zap.Int64("telegram_id", user.TelegramId))

		for _, asset := range services.ScanAssets {
			if _, err := services.Wallet.EnsureAddress(ctx, user.Id, asset); err != nil {
				zap.L().Error("Error ensuring address",
					zap.String("user_id", user.Id),
					zap.String("asset", asset.String()),
					zap.Error(err))
				failed = append(failed, fmt.Sprintf("%d/%s", user.TelegramId, asset))
				continue
			}
			total++
		}
	}

	if len(failed) > 0 {
		zap.L().Warn("Address generation completed with some failures",
			zap.Int("addresses_ready", total),
			zap.Strings("failed_user_assets", failed))
	} else {
		zap.L().Info("Address generation completed successfully",
			zap.Int("addresses_ready", total))
	}
}

func printPlans(ctx context.Context, services *common.Services) {
	plans, err := services.Store.GetPlans(ctx, false)
	if err != nil {
		zap.L().Fatal("Failed to read plans", zap.Error(err))
	}

	common.PrintHeader("INVESTMENT PLANS", common.DefaultWidth)
	for i, p := range plans {
		kind := "flexible"
		if p.Locked {
			kind = fmt.Sprintf("locked %dh", p.DurationHours)
		}
		status := ""
		if !p.Active {
			status = " (inactive)"
		}
		fmt.Printf("%s%-20s %6s%%/day  %-12s %s - %s%s\n",
			common.BoxPrefix(i == len(plans)-1), p.Name, p.DailyReturn.String(), kind,
			common.FormatAmount(p.MinAmount), common.FormatAmount(p.MaxAmount), status)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	plansFlag := flag.String("plans", "", "Seed investment plans from this YAML file")
	addressesFlag := flag.Bool("addresses", false, "Generate missing static deposit addresses for all users")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Logging)
	defer loggerCleanup()

	zap.L().Info("Initializing database", zap.String("backend", cfg.StoreBackend))
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *plansFlag != "" {
		seedPlans(ctx, services, *plansFlag)
	}
	if *addressesFlag {
		generateAddresses(ctx, services)
	}

	printPlans(ctx, services)

	if cfg.StoreBackend == models.BackendSQLite {
		fmt.Printf("\nSchema ready at %s\n", cfg.Database.Path)
	}
}
