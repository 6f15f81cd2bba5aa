/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/python-is-trash/westwallet-backend/internal/common"
	"github.com/python-is-trash/westwallet-backend/internal/config"
	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"go.uber.org/zap"
)

type generationStats struct {
	successCount int
	failedAssets []string
}

func validateUsername(username string) error {
	if username == "" {
		return nil
	}
	if len(username) < 5 || len(username) > 32 {
		return fmt.Errorf("telegram usernames are 5-32 characters")
	}
	return nil
}

func generateAddressesForUser(ctx context.Context, services *common.Services, userId string, assets []models.Asset) generationStats {
	fmt.Printf("Generating deposit addresses for %d assets...\n\n", len(assets))

	stats := generationStats{failedAssets: []string{}}
	for _, asset := range assets {
		addr, err := services.Wallet.EnsureAddress(ctx, userId, asset)
		if err != nil {
			zap.L().Error("Failed to generate address",
				zap.String("asset", asset.String()),
				zap.Error(err))
			fmt.Printf("✗ %s: Failed to create address\n", asset)
			stats.failedAssets = append(stats.failedAssets, asset.String())
			continue
		}
		if addr.Memo != "" {
			fmt.Printf("✓ %s: %s (memo %s)\n", asset, addr.Address, addr.Memo)
		} else {
			fmt.Printf("✓ %s: %s\n", asset, addr.Address)
		}
		stats.successCount++
	}
	return stats
}

func main() {
	ctx := context.Background()

	telegramFlag := flag.Int64("telegram-id", 0, "User's Telegram id (required)")
	usernameFlag := flag.String("username", "", "Telegram username without @ (optional)")
	languageFlag := flag.String("language", "en", "Preferred language")
	referrerFlag := flag.String("referrer", "", "Referrer's Telegram id or user id (optional)")
	addressesFlag := flag.Bool("addresses", false, "Generate static deposit addresses for every configured asset")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Logging)
	defer loggerCleanup()

	if *telegramFlag <= 0 {
		zap.L().Fatal("--telegram-id is required")
	}
	username := strings.TrimPrefix(*usernameFlag, "@")
	if err := validateUsername(username); err != nil {
		zap.L().Fatal("Invalid username", zap.Error(err))
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	var referrerId string
	if *referrerFlag != "" {
		referrer, err := common.ResolveUser(ctx, services.Store, *referrerFlag)
		if err != nil {
			zap.L().Fatal("Referrer not found", zap.String("referrer", *referrerFlag), zap.Error(err))
		}
		referrerId = referrer.Id
	}

	title := "USER CREATED"
	if _, err := services.Store.GetUserByTelegramId(ctx, *telegramFlag); err == nil {
		title = "USER ALREADY REGISTERED"
		zap.L().Warn("User already exists with this Telegram id", zap.Int64("telegram_id", *telegramFlag))
	} else if !errors.Is(err, store.ErrUserNotFound) {
		zap.L().Fatal("Failed to look up user", zap.Error(err))
	}

	// Registration is idempotent per Telegram id; the referrer of an existing user is kept.
	user, err := services.Store.CreateUser(ctx, store.CreateUserParams{
		TelegramId: *telegramFlag,
		Username:   username,
		Language:   *languageFlag,
		ReferrerId: referrerId,
	})
	if err != nil {
		zap.L().Fatal("Failed to create user", zap.Error(err))
	}

	ancestors, err := services.Store.GetReferralAncestors(ctx, user.Id, store.MaxReferralDepth)
	if err != nil {
		zap.L().Warn("Unable to read referral chain", zap.Error(err))
	}

	common.PrintHeader(title, common.DefaultWidth)
	fmt.Printf("ID:          %s\n", user.Id)
	fmt.Printf("Telegram:    %d\n", user.TelegramId)
	if user.Username != "" {
		fmt.Printf("Username:    @%s\n", user.Username)
	}
	if user.ReferrerId != "" {
		fmt.Printf("Referrer:    %s\n", user.ReferrerId)
		fmt.Printf("Upline:      %d levels\n", len(ancestors))
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	zap.L().Info("User created successfully",
		zap.String("id", user.Id),
		zap.Int("referral_levels", len(ancestors)))

	if !*addressesFlag {
		return
	}

	stats := generateAddressesForUser(ctx, services, user.Id, services.ScanAssets)

	common.PrintHeader("ADDRESS GENERATION SUMMARY", common.DefaultWidth)
	fmt.Printf("Total Assets:      %d\n", len(services.ScanAssets))
	fmt.Printf("Successful:        %d\n", stats.successCount)
	fmt.Printf("Failed:            %d\n", len(stats.failedAssets))
	if len(stats.failedAssets) > 0 {
		fmt.Printf("Failed Assets:     %s\n", strings.Join(stats.failedAssets, ", "))
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	if len(stats.failedAssets) > 0 {
		zap.L().Warn("User created but some addresses failed to generate",
			zap.String("user_id", user.Id),
			zap.Int("successful", stats.successCount),
			zap.Strings("failed_assets", stats.failedAssets))
	}
}
