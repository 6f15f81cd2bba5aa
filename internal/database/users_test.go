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
	"errors"
	"testing"

	"github.com/python-is-trash/westwallet-backend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser_MaterializesAncestors(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	// Chain of seven users: chain[i] was referred by chain[i-1].
	chain := make([]string, 0, 7)
	parent := ""
	for i := 0; i < 7; i++ {
		user := createTestUser(t, s, int64(2000+i), parent)
		chain = append(chain, user.Id)
		parent = user.Id
	}

	leaf := chain[len(chain)-1]
	edges, err := s.GetReferralAncestors(ctx, leaf, store.MaxReferralDepth)
	require.NoError(t, err)
	require.Len(t, edges, store.MaxReferralDepth)

	for i, edge := range edges {
		assert.Equal(t, i+1, edge.Level)
		assert.Equal(t, chain[len(chain)-2-i], edge.ReferrerId)
		assert.Equal(t, leaf, edge.ReferredId)
	}

	edges, err = s.GetReferralAncestors(ctx, leaf, 3)
	require.NoError(t, err)
	assert.Len(t, edges, 3)

	edges, err = s.GetReferralAncestors(ctx, chain[0], store.MaxReferralDepth)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestCreateUser_ExistingTelegramIdReturnsUser(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	first := createTestUser(t, s, 3001, "")
	again := createTestUser(t, s, 3001, "")
	assert.Equal(t, first.Id, again.Id)

	users, err := s.GetUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestCreateUser_UnknownReferrer(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := s.CreateUser(context.Background(), store.CreateUserParams{TelegramId: 3002, ReferrerId: "nobody"})
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGetUserByTelegramId(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	created := createTestUser(t, s, 3003, "")

	user, err := s.GetUserByTelegramId(ctx, 3003)
	require.NoError(t, err)
	assert.Equal(t, created.Id, user.Id)
	assert.Equal(t, "en", user.Language)

	_, err = s.GetUserByTelegramId(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrUserNotFound)

	_, err = s.GetUserById(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}
