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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var referrerId sql.NullString
	var lastClaim sql.NullTime
	if err := row.Scan(&user.Id, &user.TelegramId, &user.Username, &user.Language,
		&referrerId, &lastClaim, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.ReferrerId = referrerId.String
	user.LastClaimAt = timePtr(lastClaim)
	return &user, nil
}

func (s *Service) GetUsers(ctx context.Context) ([]models.User, error) {
	zap.L().Debug("Querying active users")

	rows, err := s.db.QueryContext(ctx, queryGetActiveUsers)
	if err != nil {
		zap.L().Error("Failed to query users", zap.Error(err))
		return nil, fmt.Errorf("unable to query users: %w", err)
	}
	defer closeRows(rows)

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan user row: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	zap.L().Debug("Found active users", zap.Int("count", len(users)))
	return users, nil
}

func (s *Service) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, queryGetUserById, userId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userId, store.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query user: %w", err)
	}
	return user, nil
}

func (s *Service) GetUserByTelegramId(ctx context.Context, telegramId int64) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, queryGetUserByTelegramId, telegramId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("telegram user %d: %w", telegramId, store.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query user: %w", err)
	}
	return user, nil
}

// CreateUser registers a user and materializes their referral ancestry in the
// same transaction. Registering an existing telegram id returns that user.
func (s *Service) CreateUser(ctx context.Context, params store.CreateUserParams) (*models.User, error) {
	if params.TelegramId == 0 {
		return nil, fmt.Errorf("telegram id is required")
	}
	if params.Language == "" {
		params.Language = "en"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	existing, err := scanUser(tx.QueryRowContext(ctx, queryGetUserByTelegramId, params.TelegramId))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unable to check existing user: %w", err)
	}

	if params.ReferrerId != "" {
		if _, err := scanUser(tx.QueryRowContext(ctx, queryGetUserById, params.ReferrerId)); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("referrer %s: %w", params.ReferrerId, store.ErrUserNotFound)
			}
			return nil, fmt.Errorf("unable to load referrer: %w", err)
		}
	}

	now := time.Now().UTC()
	userId := uuid.New().String()
	if _, err := tx.ExecContext(ctx, queryInsertUser, userId, params.TelegramId, params.Username,
		params.Language, nullString(params.ReferrerId), now, now); err != nil {
		return nil, fmt.Errorf("unable to insert user: %w", err)
	}

	if params.ReferrerId != "" {
		if _, err := tx.ExecContext(ctx, queryInsertDirectEdge, params.ReferrerId, userId, now); err != nil {
			return nil, fmt.Errorf("unable to insert referral edge: %w", err)
		}
		if _, err := tx.ExecContext(ctx, queryInsertInheritedEdges, userId, now, params.ReferrerId, store.MaxReferralDepth); err != nil {
			return nil, fmt.Errorf("unable to inherit referral edges: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("User created",
		zap.String("user_id", userId),
		zap.Int64("telegram_id", params.TelegramId),
		zap.String("referrer_id", params.ReferrerId))

	return &models.User{
		Id:         userId,
		TelegramId: params.TelegramId,
		Username:   params.Username,
		Language:   params.Language,
		ReferrerId: params.ReferrerId,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *Service) GetReferralAncestors(ctx context.Context, userId string, maxLevel int) ([]models.ReferralEdge, error) {
	rows, err := s.db.QueryContext(ctx, queryGetReferralAncestors, userId, maxLevel)
	if err != nil {
		return nil, fmt.Errorf("unable to query referral ancestors: %w", err)
	}
	defer closeRows(rows)

	var edges []models.ReferralEdge
	for rows.Next() {
		var edge models.ReferralEdge
		if err := rows.Scan(&edge.ReferrerId, &edge.ReferredId, &edge.Level, &edge.Active, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan referral edge: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referral edges: %w", err)
	}
	return edges, nil
}
