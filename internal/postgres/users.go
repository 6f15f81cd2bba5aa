package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	if err := row.Scan(&user.Id, &user.TelegramId, &user.Username, &user.Language,
		&user.ReferrerId, &user.LastClaimAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, queryGetActiveUsers)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *Store) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, queryGetUserById, userId))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userId, store.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserByTelegramId(ctx context.Context, telegramId int64) (*models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, queryGetUserByTelegramId, telegramId))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("telegram user %d: %w", telegramId, store.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// CreateUser registers a user and materializes the referral ancestry in the
// same transaction. A known telegram id returns the existing user.
func (s *Store) CreateUser(ctx context.Context, params store.CreateUserParams) (*models.User, error) {
	if params.TelegramId == 0 {
		return nil, fmt.Errorf("telegram id is required")
	}
	if params.Language == "" {
		params.Language = "en"
	}

	now := time.Now().UTC()
	user := &models.User{
		Id:         uuid.New().String(),
		TelegramId: params.TelegramId,
		Username:   params.Username,
		Language:   params.Language,
		ReferrerId: params.ReferrerId,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var existing *models.User
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		found, err := scanUser(tx.QueryRow(ctx, queryGetUserByTelegramId, params.TelegramId))
		if err == nil {
			existing = found
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check existing user: %w", err)
		}

		if params.ReferrerId != "" {
			if _, err := scanUser(tx.QueryRow(ctx, queryGetUserById, params.ReferrerId)); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("referrer %s: %w", params.ReferrerId, store.ErrUserNotFound)
				}
				return fmt.Errorf("load referrer: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, queryInsertUser, user.Id, user.TelegramId, user.Username,
			user.Language, params.ReferrerId, now); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}

		if params.ReferrerId != "" {
			if _, err := tx.Exec(ctx, queryInsertDirectEdge, params.ReferrerId, user.Id, now); err != nil {
				return fmt.Errorf("insert referral edge: %w", err)
			}
			if _, err := tx.Exec(ctx, queryInsertInheritedEdges, user.Id, now, params.ReferrerId, store.MaxReferralDepth); err != nil {
				return fmt.Errorf("inherit referral edges: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	zap.L().Info("User created",
		zap.String("user_id", user.Id),
		zap.Int64("telegram_id", user.TelegramId),
		zap.String("referrer_id", user.ReferrerId))
	return user, nil
}

func (s *Store) GetReferralAncestors(ctx context.Context, userId string, maxLevel int) ([]models.ReferralEdge, error) {
	rows, err := s.pool.Query(ctx, queryGetReferralAncestors, userId, maxLevel)
	if err != nil {
		return nil, fmt.Errorf("list referral ancestors: %w", err)
	}
	defer rows.Close()

	var edges []models.ReferralEdge
	for rows.Next() {
		var edge models.ReferralEdge
		if err := rows.Scan(&edge.ReferrerId, &edge.ReferredId, &edge.Level, &edge.Active, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan referral edge: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referral edges: %w", err)
	}
	return edges, nil
}
