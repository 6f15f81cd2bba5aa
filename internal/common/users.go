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

package common

import (
	"context"
	"fmt"
	"strconv"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/store"

	"go.uber.org/zap"
)

// UserInfo represents simplified user information for command-line utilities
type UserInfo struct {
	Id         string
	TelegramId int64
	Username   string
}

// ResolveUser looks a user up by Telegram id when ref is numeric, otherwise
// by internal id.
func ResolveUser(ctx context.Context, st store.LedgerStore, ref string) (*models.User, error) {
	if telegramId, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return st.GetUserByTelegramId(ctx, telegramId)
	}
	return st.GetUserById(ctx, ref)
}

// InitializeUsers retrieves users based on an optional filter.
// If filter is provided, returns the single matching user.
// If filter is empty, returns all users.
func InitializeUsers(ctx context.Context, st store.LedgerStore, filter string) ([]UserInfo, error) {
	var users []UserInfo

	if filter != "" {
		zap.L().Info("Looking up user", zap.String("user", filter))
		user, err := ResolveUser(ctx, st, filter)
		if err != nil {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		users = append(users, userInfo(*user))
	} else {
		allUsers, err := st.GetUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get users: %w", err)
		}
		for _, u := range allUsers {
			users = append(users, userInfo(u))
		}
	}

	zap.L().Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}

func userInfo(u models.User) UserInfo {
	return UserInfo{Id: u.Id, TelegramId: u.TelegramId, Username: u.Username}
}

// DisplayName prefers the Telegram username.
func (u UserInfo) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return fmt.Sprintf("tg:%d", u.TelegramId)
}
