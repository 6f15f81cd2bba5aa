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

	"github.com/python-is-trash/westwallet-backend/internal/common"
	"github.com/python-is-trash/westwallet-backend/internal/config"
	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	userFlag := flag.String("user", "", "Telegram id or user id (required)")
	assetFlag := flag.String("asset", "", "Network asset ticker, e.g. USDTTRC or TON (required)")
	amountFlag := flag.String("amount", "0", "Expected amount (informational)")
	listFlag := flag.Bool("list", false, "List the user's static deposit addresses instead")
	flag.Parse()

	if *userFlag == "" || (*assetFlag == "" && !*listFlag) {
		fmt.Println("--user and --asset are required")
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

	user, err := common.ResolveUser(ctx, services.Store, *userFlag)
	if err != nil {
		zap.L().Fatal("User not found", zap.String("user", *userFlag), zap.Error(err))
	}

	if *listFlag {
		listAddresses(ctx, services, user)
		return
	}

	asset, err := models.ParseAsset(*assetFlag)
	if err != nil {
		zap.L().Fatal("Invalid asset", zap.Error(err))
	}
	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		zap.L().Fatal("Invalid amount", zap.Error(err))
	}

	inst, err := services.Wallet.CreateDeposit(ctx, user.Id, asset, amount)
	if err != nil {
		zap.L().Fatal("Failed to create deposit", zap.Error(err))
	}

	title := "DEPOSIT INSTRUCTIONS"
	if inst.Reused {
		title += " (existing request)"
	}
	common.PrintHeader(title, common.DefaultWidth)
	fmt.Printf("Deposit ID: %s\n", inst.DepositId)
	fmt.Printf("Asset:      %s (%s)\n", inst.Asset, inst.Asset.Network())
	if inst.Amount.IsPositive() {
		fmt.Printf("Amount:     %s\n", common.FormatAmount(inst.Amount))
	}
	fmt.Printf("Address:    %s\n", inst.Address)
	if inst.Memo != "" {
		fmt.Printf("Memo:       %s  (required)\n", inst.Memo)
	}
	fmt.Printf("QR payload: %s\n", inst.QRPayload)
	fmt.Printf("Expires:    %s\n", inst.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()
}

func listAddresses(ctx context.Context, services *common.Services, user *models.User) {
	addresses, err := services.Store.GetUserAddresses(ctx, user.Id)
	if err != nil {
		zap.L().Fatal("Failed to list addresses", zap.Error(err))
	}

	common.PrintHeader(fmt.Sprintf("DEPOSIT ADDRESSES FOR %d", user.TelegramId), common.DefaultWidth)
	if len(addresses) == 0 {
		fmt.Println("No addresses generated yet")
	}
	for i, addr := range addresses {
		isLast := i == len(addresses)-1
		fmt.Printf("%s%-8s %s\n", common.BoxPrefix(isLast), addr.Asset, addr.Address)
		if addr.Memo != "" {
			fmt.Printf("%s         memo %s\n", common.BoxDetailPrefix(isLast), addr.Memo)
		}
	}
	common.PrintSeparator("=", common.DefaultWidth)
}
