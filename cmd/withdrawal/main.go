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
	"os"

	"github.com/python-is-trash/westwallet-backend/internal/api"
	"github.com/python-is-trash/westwallet-backend/internal/common"
	"github.com/python-is-trash/westwallet-backend/internal/config"
	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type withdrawalFlags struct {
	user    string
	asset   models.Asset
	amount  decimal.Decimal
	address string
	memo    string
}

func parseAndValidateFlags() (*withdrawalFlags, error) {
	userFlag := flag.String("user", "", "Telegram id or user id (required)")
	assetFlag := flag.String("asset", "", "Network asset ticker, e.g. USDTTRC or TON (required)")
	amountFlag := flag.String("amount", "", "Amount to withdraw (required)")
	addressFlag := flag.String("address", "", "Destination address (required)")
	memoFlag := flag.String("memo", "", "Destination memo / tag for memo networks")
	flag.Parse()

	if *userFlag == "" || *assetFlag == "" || *amountFlag == "" || *addressFlag == "" {
		return nil, fmt.Errorf("all flags are required: --user, --asset, --amount, --address")
	}

	asset, err := models.ParseAsset(*assetFlag)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	return &withdrawalFlags{
		user:    *userFlag,
		asset:   asset,
		amount:  amount,
		address: *addressFlag,
		memo:    *memoFlag,
	}, nil
}

func fail(format string, args ...any) {
	common.PrintHeader("WITHDRAWAL FAILED", common.DefaultWidth)
	fmt.Printf("Error: "+format+"\n", args...)
	common.PrintSeparator("=", common.DefaultWidth)
	os.Exit(1)
}

func main() {
	ctx := context.Background()

	req, err := parseAndValidateFlags()
	if err != nil {
		fmt.Println(err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Logging)
	defer loggerCleanup()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	user, err := common.ResolveUser(ctx, services.Store, req.user)
	if err != nil {
		fail("user %s not found", req.user)
	}

	current, err := services.Wallet.GetBalance(ctx, user.Id, req.asset)
	if err != nil {
		zap.L().Fatal("Failed to read balance", zap.Error(err))
	}

	common.PrintHeader("WITHDRAWAL REQUEST", common.DefaultWidth)
	fmt.Printf("User:              %d (%s)\n", user.TelegramId, user.Id)
	fmt.Printf("Asset:             %s (%s)\n", req.asset, req.asset.Network())
	fmt.Printf("Current Balance:   %s\n", common.FormatAmount(current))
	fmt.Printf("Withdrawal Amount: %s\n", common.FormatAmount(req.amount))
	fmt.Printf("Destination:       %s\n", req.address)
	if req.memo != "" {
		fmt.Printf("Memo:              %s\n", req.memo)
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	if current.LessThan(req.amount) {
		fail("insufficient %s balance: current=%s, requested=%s", req.asset, current, req.amount)
	}

	result, err := services.Wallet.RequestWithdrawal(ctx, api.WithdrawalRequest{
		UserId:  user.Id,
		Asset:   req.asset,
		Amount:  req.amount,
		Address: req.address,
		Memo:    req.memo,
	})
	if err != nil {
		zap.L().Error("Withdrawal could not be completed", zap.Error(err))
		fail("%v", err)
	}
	if !result.Success {
		if result.WithdrawalId != "" {
			fmt.Println("Balance restored (debit reversed)")
		}
		fail("%s", result.Error)
	}

	fmt.Println("✅ Withdrawal submitted")
	fmt.Printf("   Withdrawal ID: %s\n", result.WithdrawalId)
	fmt.Printf("   Gateway ID:    %s\n", result.GatewayId)
	fmt.Printf("   New Balance:   %s %s\n\n", common.FormatAmount(result.NewBalance), req.asset)
}
