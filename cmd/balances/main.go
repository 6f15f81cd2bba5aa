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
	"flag"
	"fmt"

	"github.com/python-is-trash/westwallet-backend/internal/common"
	"github.com/python-is-trash/westwallet-backend/internal/config"
	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers        int
	usersWithBalances int
	totalUsd          decimal.Decimal
	mismatches        int
}

func printTokenBalances(balances []models.TokenBalance, mirror models.BalanceSheet) int {
	mismatches := 0
	for i, tb := range balances {
		isLast := i == len(balances)-1
		fmt.Printf("%s%-5s %20s  %s\n",
			common.BoxPrefix(isLast), tb.Token, common.FormatAmount(tb.Aggregate), common.FormatUSD(tb.UsdValue))
		for _, nb := range tb.Networks {
			line := fmt.Sprintf("%s   %-8s %20s", common.BoxDetailPrefix(isLast), nb.Network, common.FormatAmount(nb.Balance))
			if mirror != nil {
				if mirrored := mirror.Get(nb.Asset); !mirrored.Equal(nb.Balance) {
					line += fmt.Sprintf("  ledger mismatch: %s", common.FormatAmount(mirrored))
					mismatches++
				}
			}
			fmt.Println(line)
		}
	}
	return mismatches
}

func printUserHeader(user common.UserInfo, tokenCount int) {
	fmt.Printf("\n┌─ User: %s (%d)\n", user.DisplayName(), user.TelegramId)
	fmt.Printf("│  ID: %s\n", user.Id)
	fmt.Printf("│  Tokens: %d\n", tokenCount)
	common.PrintBoxSeparator(78)
}

func processUser(ctx context.Context, services *common.Services, user common.UserInfo, compare bool, stats *balanceStats) error {
	balances, err := services.Wallet.GetBalances(ctx, user.Id)
	if err != nil {
		return fmt.Errorf("failed to get balances: %w", err)
	}
	if len(balances) == 0 {
		return nil
	}

	var mirror models.BalanceSheet
	if compare {
		mirror, err = services.Mirror.Balances(ctx, user.Id)
		if err != nil {
			zap.L().Warn("Unable to read ledger mirror balances",
				zap.String("user_id", user.Id),
				zap.Error(err))
			mirror = nil
		}
	}

	printUserHeader(user, len(balances))
	stats.mismatches += printTokenBalances(balances, mirror)

	stats.usersWithBalances++
	for _, tb := range balances {
		stats.totalUsd = stats.totalUsd.Add(tb.UsdValue)
	}
	return nil
}

func main() {
	ctx := context.Background()

	userFlag := flag.String("user", "", "Filter by Telegram id or user id (optional)")
	compareFlag := flag.Bool("compare", false, "Compare against the Formance ledger mirror")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.Logging)
	defer loggerCleanup()

	logger.Info("Starting balance query")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	compare := *compareFlag
	if compare && cfg.Ledger.StackURL == "" {
		logger.Warn("Ledger mirror not configured, skipping comparison")
		compare = false
	}

	users, err := common.InitializeUsers(ctx, services.Store, *userFlag)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("USER BALANCE REPORT", common.DefaultWidth)

	stats := balanceStats{totalUsd: decimal.Zero}
	for _, user := range users {
		stats.totalUsers++
		if err := processUser(ctx, services, user, compare, &stats); err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.Error(err))
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d of %d users hold balances, total %s",
		stats.usersWithBalances, stats.totalUsers, common.FormatUSD(stats.totalUsd))
	if compare {
		summary += fmt.Sprintf(", %d ledger mismatches", stats.mismatches)
	}
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_balances", stats.usersWithBalances),
		zap.Int("ledger_mismatches", stats.mismatches))
}
