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

const (
	// User queries
	userColumns = `id, telegram_id, username, language, referrer_id, last_claim_at, created_at, updated_at`

	queryGetActiveUsers = `
		SELECT ` + userColumns + `
		FROM users
		WHERE active = 1
		ORDER BY created_at`

	queryInsertUser = `
		INSERT INTO users (id, telegram_id, username, language, referrer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryGetUserById = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = ? AND active = 1`

	queryGetUserByTelegramId = `
		SELECT ` + userColumns + `
		FROM users
		WHERE telegram_id = ? AND active = 1`

	queryTouchUserClaim = `
		UPDATE users
		SET last_claim_at = ?, updated_at = ?
		WHERE id = ? AND (last_claim_at IS NULL OR last_claim_at <= ?)`

	// Referral queries
	queryInsertDirectEdge = `
		INSERT INTO referral_edges (referrer_id, referred_id, level, active, created_at)
		VALUES (?, ?, 1, 1, ?)`

	queryInsertInheritedEdges = `
		INSERT INTO referral_edges (referrer_id, referred_id, level, active, created_at)
		SELECT referrer_id, ?, level + 1, 1, ?
		FROM referral_edges
		WHERE referred_id = ? AND level < ?`

	queryGetReferralAncestors = `
		SELECT referrer_id, referred_id, level, active, created_at
		FROM referral_edges
		WHERE referred_id = ? AND active = 1 AND level <= ?
		ORDER BY level`

	earningColumns = `id, referrer_id, referred_id, level, asset, amount, percentage, usd_value,
		investment_id, source_operation_id, created_at`

	queryInsertReferralEarning = `
		INSERT INTO referral_earnings (` + earningColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetReferralEarnings = `
		SELECT ` + earningColumns + `
		FROM referral_earnings
		WHERE referrer_id = ?
		ORDER BY created_at DESC`

	// Address queries
	addressColumns = `id, user_id, asset, address, memo, label, created_at, last_used_at`

	queryInsertAddress = `
		INSERT INTO deposit_addresses (id, user_id, asset, address, memo, label, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryGetAddress = `
		SELECT ` + addressColumns + `
		FROM deposit_addresses
		WHERE user_id = ? AND asset = ?`

	queryGetUserAddresses = `
		SELECT ` + addressColumns + `
		FROM deposit_addresses
		WHERE user_id = ?
		ORDER BY asset`

	queryGetAllAddresses = `
		SELECT ` + addressColumns + `
		FROM deposit_addresses
		ORDER BY asset, created_at`

	queryFindAddress = `
		SELECT a.id, a.user_id, a.asset, a.address, a.memo, a.label, a.created_at, a.last_used_at
		FROM deposit_addresses a
		JOIN users u ON u.id = a.user_id
		WHERE LOWER(a.address) = LOWER(?) AND a.memo = ? AND a.asset = ? AND u.active = 1
		ORDER BY a.created_at
		LIMIT 1`

	queryTouchAddress = `
		UPDATE deposit_addresses
		SET last_used_at = ?
		WHERE user_id = ? AND LOWER(address) = LOWER(?)`

	// Deposit queries
	depositColumns = `id, user_id, label, asset, requested_amount, credited_amount, address, memo,
		gateway_tx_id, blockchain_hash, confirmations, status, created_at, updated_at, credited_at`

	queryInsertDeposit = `
		INSERT INTO deposits (id, user_id, label, asset, requested_amount, address, memo, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)`

	queryGetDepositById = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE id = ?`

	queryGetDepositByLabel = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE label = ?`

	queryGetLatestPendingDeposit = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE user_id = ? AND LOWER(address) = LOWER(?) AND asset = ? AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1`

	queryGetRecentPendingDeposit = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE user_id = ? AND asset = ? AND status = 'pending' AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1`

	queryHashCredited = `
		SELECT COUNT(1) FROM deposits WHERE blockchain_hash = ? AND status = 'credited'`

	queryGatewayTxCredited = `
		SELECT COUNT(1) FROM deposits WHERE gateway_tx_id = ? AND status = 'credited'`

	// Status moves pending -> credited exactly once; zero rows means another
	// writer already resolved the deposit.
	queryCreditDeposit = `
		UPDATE deposits
		SET status = 'credited', credited_amount = ?, gateway_tx_id = ?, blockchain_hash = ?,
		    confirmations = ?, credited_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryExpirePendingDeposits = `
		UPDATE deposits
		SET status = 'cancelled', updated_at = ?
		WHERE status = 'pending' AND created_at < ?`

	// Balance queries
	queryGetBalance = `
		SELECT balance
		FROM account_balances
		WHERE user_id = ? AND asset = ?`

	queryGetAllUserBalances = `
		SELECT id, user_id, asset, balance, last_operation_id, version, updated_at
		FROM account_balances
		WHERE user_id = ?
		ORDER BY asset`

	queryGetAccountBalance = `
		SELECT id, balance, version
		FROM account_balances
		WHERE user_id = ? AND asset = ?`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, user_id, asset, balance, version, updated_at)
		VALUES (?, ?, ?, '0', 1, ?)`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, last_operation_id = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND asset = ? AND version = ?`

	// Operation history queries
	operationColumns = `id, user_id, operation_type, asset, amount, balance_before, balance_after,
		reference, blockchain_hash, investment_id, description, status, created_at`

	queryInsertOperation = `
		INSERT INTO operation_history (` + operationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetOperationHistory = `
		SELECT ` + operationColumns + `
		FROM operation_history
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	// Matches structured columns first; the description patterns cover
	// manual credits that only carry "Hash:<h>" / "TX:<id>" text.
	queryOperationReference = `
		SELECT COUNT(1)
		FROM operation_history
		WHERE user_id = ?
		  AND operation_type IN ('deposit', 'admin_adjustment')
		  AND (
		    (? <> '' AND created_at >= ? AND (blockchain_hash = ?
		      OR description LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'))
		    OR
		    (? <> '' AND created_at >= ? AND (reference = ?
		      OR description LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'))
		  )`

	queryRecentOperationAmounts = `
		SELECT amount
		FROM operation_history
		WHERE user_id = ? AND asset = ? AND operation_type = ? AND created_at >= ?`

	// Plan queries
	planColumns = `id, name, daily_return, duration_hours, min_amount, max_amount,
		freeze_principal, active, sort_order, created_at`

	queryInsertPlan = `
		INSERT INTO investment_plans (` + planColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetPlans = `
		SELECT ` + planColumns + `
		FROM investment_plans
		WHERE active = 1 OR ? = 0
		ORDER BY sort_order, name`

	queryGetPlan = `
		SELECT ` + planColumns + `
		FROM investment_plans
		WHERE id = ?`

	// Investment queries
	investmentColumns = `id, user_id, plan_id, unique_code, amount, return_amount, daily_rate,
		duration_hours, freeze_principal, asset, status, start_time, end_time, last_claim_time,
		accumulated_profit, version, completed_at`

	queryInsertInvestment = `
		INSERT INTO investments (id, user_id, plan_id, unique_code, amount, return_amount, daily_rate,
			duration_hours, freeze_principal, asset, status, start_time, end_time, accumulated_profit, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?, '0', 1)`

	queryGetInvestment = `
		SELECT ` + investmentColumns + `
		FROM investments
		WHERE id = ?`

	queryGetUserInvestments = `
		SELECT ` + investmentColumns + `
		FROM investments
		WHERE user_id = ?
		ORDER BY start_time DESC`

	queryGetMaturedInvestments = `
		SELECT ` + investmentColumns + `
		FROM investments
		WHERE status = 'active' AND freeze_principal = 1 AND end_time <= ?
		ORDER BY end_time`

	queryUpdateInvestmentPayout = `
		UPDATE investments
		SET accumulated_profit = ?, last_claim_time = ?, status = ?, completed_at = ?, version = version + 1
		WHERE id = ? AND user_id = ? AND status = 'active' AND version = ?`

	// Notification queries
	queryEnqueueNotification = `
		INSERT OR IGNORE INTO notifications (id, user_id, kind, reference, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetPendingNotifications = `
		SELECT id, user_id, kind, reference, message, created_at, sent_at
		FROM notifications
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT ?`

	queryMarkNotificationSent = `
		UPDATE notifications SET sent_at = ? WHERE id = ? AND sent_at IS NULL`

	// Withdrawal queries
	withdrawalColumns = `id, user_id, asset, amount, address, memo, status, gateway_id,
		blockchain_hash, fee, error, created_at, updated_at`

	queryInsertWithdrawal = `
		INSERT INTO withdrawals (id, user_id, asset, amount, address, memo, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)`

	queryGetWithdrawal = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE id = ?`

	queryMarkWithdrawalSubmitted = `
		UPDATE withdrawals
		SET status = 'submitted', gateway_id = ?, blockchain_hash = ?, fee = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryFailWithdrawal = `
		UPDATE withdrawals
		SET status = 'failed', error = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`
)
