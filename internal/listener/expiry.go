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

package listener

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// expiryLoop cancels pending deposits that were never paid.
func (d *DepositListener) expiryLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.expiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := d.ExpireOnce(ctx); err != nil {
				zap.L().Error("Failed to expire pending deposits", zap.Error(err))
			}
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ExpireOnce cancels pending deposits older than the expiry window.
func (d *DepositListener) ExpireOnce(ctx context.Context) (int64, error) {
	cutoff := d.now().Add(-d.depositExpiry)
	n, err := d.store.ExpirePendingDeposits(ctx, cutoff)
	if err != nil {
		if d.metrics != nil {
			d.metrics.Errors.WithLabelValues("expiry").Inc()
		}
		return 0, err
	}
	if n > 0 {
		if d.metrics != nil {
			d.metrics.DepositsExpired.Add(float64(n))
		}
		zap.L().Info("Expired pending deposits",
			zap.Int64("count", n),
			zap.Time("cutoff", cutoff))
	}
	return n, nil
}
