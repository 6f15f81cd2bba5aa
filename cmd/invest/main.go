package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/common"
	"github.com/python-is-trash/westwallet-backend/internal/config"
	"github.com/python-is-trash/westwallet-backend/internal/investment"
	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func usage() {
	fmt.Println("usage:")
	fmt.Println("  invest open  --user ID --plan PLAN_ID --token USDT --amount 100")
	fmt.Println("  invest list  --user ID")
	fmt.Println("  invest claim --user ID --investment INV_ID [--type profit|principal_and_profit]")
	os.Exit(2)
}

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	userFlag := fs.String("user", "", "Telegram id or user id (required)")
	planFlag := fs.String("plan", "", "Plan id (open)")
	tokenFlag := fs.String("token", "USDT", "Token to invest (open)")
	amountFlag := fs.String("amount", "", "Amount to invest (open)")
	investmentFlag := fs.String("investment", "", "Investment id (claim)")
	typeFlag := fs.String("type", string(investment.ClaimProfit), "Claim type (claim)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		usage()
	}
	if *userFlag == "" {
		usage()
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

	switch command {
	case "open":
		amount, err := decimal.NewFromString(*amountFlag)
		if err != nil {
			zap.L().Fatal("Invalid amount", zap.Error(err))
		}
		inv, err := services.Investment.CreateInvestment(ctx, investment.CreateParams{
			UserId: user.Id,
			PlanId: *planFlag,
			Token:  models.Token(strings.ToUpper(*tokenFlag)),
			Amount: amount,
		})
		if err != nil {
			zap.L().Fatal("Failed to open investment", zap.Error(err))
		}
		common.PrintHeader("INVESTMENT OPENED", common.DefaultWidth)
		printInvestment(*inv, time.Now(), true)
		common.PrintSeparator("=", common.DefaultWidth)

	case "list":
		investments, err := services.Store.GetUserInvestments(ctx, user.Id)
		if err != nil {
			zap.L().Fatal("Failed to list investments", zap.Error(err))
		}
		common.PrintHeader(fmt.Sprintf("INVESTMENTS FOR %d", user.TelegramId), common.DefaultWidth)
		now := time.Now()
		for i, inv := range investments {
			printInvestment(inv, now, i == len(investments)-1)
		}
		common.PrintSeparator("=", common.DefaultWidth)

	case "claim":
		claimType, err := investment.ParseClaimType(*typeFlag)
		if err != nil {
			zap.L().Fatal("Invalid claim type", zap.Error(err))
		}
		result, err := services.Investment.Claim(ctx, user.Id, *investmentFlag, claimType)
		if err != nil {
			zap.L().Fatal("Claim rejected", zap.Error(err))
		}
		common.PrintHeader("CLAIM", common.DefaultWidth)
		fmt.Printf("Investment: %s\n", result.InvestmentId)
		fmt.Printf("Profit:     %s %s\n", common.FormatAmount(result.Profit), result.Asset)
		if result.Principal.IsPositive() {
			fmt.Printf("Principal:  %s %s\n", common.FormatAmount(result.Principal), result.Asset)
		}
		fmt.Printf("Completed:  %t\n", result.Completed)
		fmt.Printf("Referral commissions paid: %d\n", len(result.Commissions))
		common.PrintSeparator("=", common.DefaultWidth)

	default:
		usage()
	}
}

func printInvestment(inv models.Investment, now time.Time, isLast bool) {
	kind := "flexible"
	if inv.Locked {
		kind = "locked until " + inv.EndTime.Local().Format("2006-01-02 15:04")
	}
	fmt.Printf("%s%s  %s %s  %s%%/day  %s  [%s]\n",
		common.BoxPrefix(isLast), inv.UniqueCode, common.FormatAmount(inv.Principal), inv.Asset,
		inv.DailyRate.String(), kind, inv.Status)
	fmt.Printf("%s   id %s, claimable %s\n",
		common.BoxDetailPrefix(isLast), inv.Id, common.FormatAmount(investment.ClaimableProfit(inv, now)))
}
