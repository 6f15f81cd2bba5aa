package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) (*Service, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// A single connection keeps every statement on the same in-memory database.
	db.SetMaxOpenConns(1)

	service := &Service{db: db}
	if err := service.initSchema(context.Background()); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	cleanup := func() {
		db.Close()
	}
	return service, cleanup
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createTestUser(t *testing.T, s *Service, telegramId int64, referrerId string) *models.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), store.CreateUserParams{
		TelegramId: telegramId,
		Username:   fmt.Sprintf("user%d", telegramId),
		ReferrerId: referrerId,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

func createPendingDeposit(t *testing.T, s *Service, userId string, asset models.Asset, address string, createdAt time.Time) *models.Deposit {
	t.Helper()
	dep, err := s.CreateDeposit(context.Background(), store.CreateDepositParams{
		UserId:          userId,
		Label:           fmt.Sprintf("deposit_%s_%d", userId, createdAt.UnixNano()),
		Asset:           asset,
		RequestedAmount: dec("100"),
		Address:         address,
		CreatedAt:       createdAt,
	})
	if err != nil {
		t.Fatalf("CreateDeposit failed: %v", err)
	}
	return dep
}

// fund credits a user through the normal deposit path.
func fund(t *testing.T, s *Service, userId string, asset models.Asset, amount string) {
	t.Helper()
	dep := createPendingDeposit(t, s, userId, asset, "addr-"+userId, time.Now().UTC())
	if _, err := s.CreditDeposit(context.Background(), store.CreditDepositParams{
		DepositId:   dep.Id,
		UserId:      userId,
		Asset:       asset,
		Amount:      dec(amount),
		GatewayTxId: "fund-" + dep.Id,
	}); err != nil {
		t.Fatalf("CreditDeposit failed: %v", err)
	}
}

func countRows(t *testing.T, s *Service, query string, args ...any) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}
