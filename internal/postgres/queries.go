package postgres

const (
	userColumns = `id, telegram_id, username, language, COALESCE(referrer_id, ''), last_claim_at, created_at, updated_at`

	queryGetActiveUsers = `
		SELECT ` + userColumns + `
		FROM users
		WHERE active
		ORDER BY created_at`

	queryInsertUser = `
		INSERT INTO users (id, telegram_id, username, language, referrer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $6)`

	queryGetUserById = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND active`

	queryGetUserByTelegramId = `
		SELECT ` + userColumns + `
		FROM users
		WHERE telegram_id = $1 AND active`

	queryTouchUserClaim = `
		UPDATE users
		SET last_claim_at = $1, updated_at = $1
		WHERE id = $2 AND (last_claim_at IS NULL OR last_claim_at <= $3)`

	queryInsertDirectEdge = `
		INSERT INTO referral_edges (referrer_id, referred_id, level, active, created_at)
		VALUES ($1, $2, 1, TRUE, $3)`

	queryInsertInheritedEdges = `
		INSERT INTO referral_edges (referrer_id, referred_id, level, active, created_at)
		SELECT referrer_id, $1, level + 1, TRUE, $2
		FROM referral_edges
		WHERE referred_id = $3 AND level < $4`

	queryGetReferralAncestors = `
		SELECT referrer_id, referred_id, level, active, created_at
		FROM referral_edges
		WHERE referred_id = $1 AND active AND level <= $2
		ORDER BY level`

	addressColumns = `id, user_id, asset, address, memo, label, created_at, last_used_at`

	queryInsertAddress = `
		INSERT INTO deposit_addresses (id, user_id, asset, address, memo, label, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	queryGetAddress = `
		SELECT ` + addressColumns + `
		FROM deposit_addresses
		WHERE user_id = $1 AND asset = $2`

	queryGetUserAddresses = `
		SELECT ` + addressColumns + `
		FROM deposit_addresses
		WHERE user_id = $1
		ORDER BY asset`

	queryGetAllAddresses = `
		SELECT ` + addressColumns + `
		FROM deposit_addresses
		ORDER BY asset, created_at`

	queryFindAddress = `
		SELECT a.id, a.user_id, a.asset, a.address, a.memo, a.label, a.created_at, a.last_used_at
		FROM deposit_addresses a
		JOIN users u ON u.id = a.user_id
		WHERE LOWER(a.address) = LOWER($1) AND a.memo = $2 AND a.asset = $3 AND u.active
		ORDER BY a.created_at
		LIMIT 1`

	queryTouchAddress = `
		UPDATE deposit_addresses
		SET last_used_at = $1
		WHERE user_id = $2 AND LOWER(address) = LOWER($3)`

	depositColumns = `id, user_id, label, asset, requested_amount::text, credited_amount::text, address, memo,
		gateway_tx_id, blockchain_hash, confirmations, status, created_at, updated_at, credited_at`

	queryInsertDeposit = `
		INSERT INTO deposits (id, user_id, label, asset, requested_amount, address, memo, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $8)`

	queryGetDepositById = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE id = $1`

	queryGetDepositByLabel = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE label = $1`

	queryGetLatestPendingDeposit = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE user_id = $1 AND LOWER(address) = LOWER($2) AND asset = $3 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1`

	queryGetRecentPendingDeposit = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE user_id = $1 AND asset = $2 AND status = 'pending' AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1`

	queryHashCredited = `
		SELECT COUNT(1) FROM deposits
		WHERE blockchain_hash = $1 AND status = 'credited'`

	queryGatewayTxCredited = `
		SELECT COUNT(1) FROM deposits
		WHERE gateway_tx_id = $1 AND status = 'credited'`

	queryLockDeposit = `
		SELECT status
		FROM deposits
		WHERE id = $1
		FOR UPDATE`

	queryCreditDeposit = `
		UPDATE deposits
		SET status = 'credited', credited_amount = $1, gateway_tx_id = $2, blockchain_hash = $3,
			confirmations = $4, credited_at = $5, updated_at = $5
		WHERE id = $6 AND status = 'pending'`

	queryExpirePendingDeposits = `
		UPDATE deposits
		SET status = 'cancelled', updated_at = $1
		WHERE status = 'pending' AND created_at < $2`

	queryLockAccountBalance = `
		SELECT id, balance::text, version
		FROM account_balances
		WHERE user_id = $1 AND asset = $2
		FOR UPDATE`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, user_id, asset, balance, version, updated_at)
		VALUES ($1, $2, $3, 0, 1, $4)
		ON CONFLICT (user_id, asset) DO NOTHING`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = $1, last_operation_id = $2, version = version + 1, updated_at = $3
		WHERE user_id = $4 AND asset = $5 AND version = $6`

	queryGetBalance = `
		SELECT balance::text
		FROM account_balances
		WHERE user_id = $1 AND asset = $2`

	queryGetUserBalances = `
		SELECT id, user_id, asset, balance::text, last_operation_id, version, updated_at
		FROM account_balances
		WHERE user_id = $1
		ORDER BY asset`

	operationColumns = `id, user_id, operation_type, asset, amount::text, balance_before::text, balance_after::text,
		reference, blockchain_hash, investment_id, description, status, created_at`

	queryInsertOperation = `
		INSERT INTO operation_history (id, user_id, operation_type, asset, amount, balance_before, balance_after,
			reference, blockchain_hash, investment_id, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	queryGetOperationHistory = `
		SELECT ` + operationColumns + `
		FROM operation_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	// Structured columns first; the description patterns cover entries
	// written by manual adjustments.
	queryOperationReference = `
		SELECT COUNT(1)
		FROM operation_history
		WHERE user_id = $1
		  AND operation_type IN ('deposit', 'admin_adjustment')
		  AND (
		    ($2 <> '' AND created_at >= $3 AND (blockchain_hash = $2
		      OR description LIKE $6 ESCAPE '\' OR description LIKE $7 ESCAPE '\'))
		    OR
		    ($4 <> '' AND created_at >= $5 AND (reference = $4
		      OR description LIKE $8 ESCAPE '\' OR description LIKE $9 ESCAPE '\'))
		  )`

	queryRecentOperationAmounts = `
		SELECT amount::text
		FROM operation_history
		WHERE user_id = $1 AND asset = $2 AND operation_type = $3 AND created_at >= $4`

	planColumns = `id, name, daily_return::text, duration_hours, min_amount::text, max_amount::text,
		freeze_principal, active, sort_order, created_at`

	queryInsertPlan = `
		INSERT INTO investment_plans (id, name, daily_return, duration_hours, min_amount, max_amount,
			freeze_principal, active, sort_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	queryGetPlans = `
		SELECT ` + planColumns + `
		FROM investment_plans
		WHERE active OR NOT $1
		ORDER BY sort_order, name`

	queryGetPlan = `
		SELECT ` + planColumns + `
		FROM investment_plans
		WHERE id = $1`

	investmentColumns = `id, user_id, plan_id, unique_code, amount::text, return_amount::text, daily_rate::text,
		duration_hours, freeze_principal, asset, status, start_time, end_time, last_claim_time,
		accumulated_profit::text, version, completed_at`

	queryInsertInvestment = `
		INSERT INTO investments (id, user_id, plan_id, unique_code, amount, return_amount, daily_rate,
			duration_hours, freeze_principal, asset, status, start_time, end_time, accumulated_profit, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'active', $11, $12, 0, 1)`

	queryGetInvestment = `
		SELECT ` + investmentColumns + `
		FROM investments
		WHERE id = $1`

	queryGetUserInvestments = `
		SELECT ` + investmentColumns + `
		FROM investments
		WHERE user_id = $1
		ORDER BY start_time DESC`

	queryGetMaturedInvestments = `
		SELECT ` + investmentColumns + `
		FROM investments
		WHERE status = 'active' AND freeze_principal AND end_time <= $1
		ORDER BY end_time`

	queryUpdateInvestmentPayout = `
		UPDATE investments
		SET accumulated_profit = $1, last_claim_time = $2, status = $3, completed_at = $4, version = version + 1
		WHERE id = $5 AND user_id = $6 AND status = 'active' AND version = $7`

	queryEnqueueNotification = `
		INSERT INTO notifications (id, user_id, kind, reference, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, kind, reference) DO NOTHING`

	queryGetPendingNotifications = `
		SELECT id, user_id, kind, reference, message, created_at, sent_at
		FROM notifications
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`

	queryMarkNotificationSent = `
		UPDATE notifications
		SET sent_at = $1
		WHERE id = $2`

	earningColumns = `id, referrer_id, referred_id, level, asset, amount::text, percentage::text, usd_value::text,
		investment_id, source_operation_id, created_at`

	queryInsertReferralEarning = `
		INSERT INTO referral_earnings (id, referrer_id, referred_id, level, asset, amount, percentage, usd_value,
			investment_id, source_operation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	queryGetReferralEarnings = `
		SELECT ` + earningColumns + `
		FROM referral_earnings
		WHERE referrer_id = $1
		ORDER BY created_at DESC`

	withdrawalColumns = `id, user_id, asset, amount::text, address, memo, status, gateway_id,
		blockchain_hash, fee::text, error, created_at, updated_at`

	queryInsertWithdrawal = `
		INSERT INTO withdrawals (id, user_id, asset, amount, address, memo, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $7)`

	queryGetWithdrawal = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE id = $1`

	queryMarkWithdrawalSubmitted = `
		UPDATE withdrawals
		SET status = 'submitted', gateway_id = $1, blockchain_hash = $2, fee = $3, updated_at = $4
		WHERE id = $5 AND status = 'pending'`

	queryFailWithdrawal = `
		UPDATE withdrawals
		SET status = 'failed', error = $1, updated_at = $2
		WHERE id = $3 AND status = 'pending'`
)
