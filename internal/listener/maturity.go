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
	"sync"
	"time"

	"go.uber.org/zap"
)

// Completer settles investments that reached maturity.
type Completer interface {
	AutoCompleteMatured(ctx context.Context) (int, error)
}

// MaturityWorker periodically settles matured locked investments.
type MaturityWorker struct {
	completer Completer
	interval  time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

func NewMaturityWorker(completer Completer, interval time.Duration) *MaturityWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MaturityWorker{
		completer: completer,
		interval:  interval,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

func (w *MaturityWorker) Start(ctx context.Context) {
	zap.L().Info("Starting maturity worker", zap.Duration("interval", w.interval))
	go w.loop(ctx)
}

func (w *MaturityWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
	zap.L().Info("Maturity worker stopped")
}

func (w *MaturityWorker) loop(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.run(ctx)
	for {
		select {
		case <-ticker.C:
			w.run(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *MaturityWorker) run(ctx context.Context) {
	n, err := w.completer.AutoCompleteMatured(ctx)
	if err != nil {
		zap.L().Error("Auto-completion pass failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("Matured investments completed", zap.Int("count", n))
	}
}
