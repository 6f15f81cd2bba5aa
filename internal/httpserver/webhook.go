package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"
	"github.com/python-is-trash/westwallet-backend/internal/reconcile"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

// Webhook results, also used as the metric label.
const (
	resultRejectedIP   = "rejected_ip"
	resultBadPayload   = "bad_payload"
	resultVerifyFailed = "verify_failed"
	resultMismatch     = "verify_mismatch"
	resultInvalid      = "invalid"
	resultError        = "error"
)

// handleCallback receives WestWallet IPN deliveries. It always answers 200;
// rejected or failed deliveries are recovered by the history scan.
func (s *Server) handleCallback(c *gin.Context) {
	result := s.processCallback(c)
	if s.metrics != nil {
		s.metrics.WebhookRequests.WithLabelValues(result).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"status": result})
}

func (s *Server) processCallback(c *gin.Context) string {
	clientIP := c.ClientIP()
	if s.allowed != nil && !s.allowed[clientIP] {
		zap.L().Warn("Webhook from unexpected address", zap.String("client_ip", clientIP))
		return resultRejectedIP
	}

	tx, err := parseCallback(c)
	if err != nil {
		zap.L().Warn("Unreadable webhook payload", zap.String("client_ip", clientIP), zap.Error(err))
		return resultBadPayload
	}

	// Detached from the client connection.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.processTimeout)
	defer cancel()

	verified := false
	if s.verify {
		fetched, err := s.gateway.GetTransaction(ctx, tx.Id.String())
		if err != nil {
			zap.L().Error("Webhook verification failed",
				zap.String("gateway_tx_id", tx.Id.String()),
				zap.Error(err))
			return resultVerifyFailed
		}
		if !strings.EqualFold(strings.TrimSpace(fetched.Address), strings.TrimSpace(tx.Address)) {
			zap.L().Warn("Webhook does not match gateway record",
				zap.String("gateway_tx_id", tx.Id.String()),
				zap.String("payload_address", tx.Address),
				zap.String("gateway_address", fetched.Address))
			return resultMismatch
		}
		tx = mergeVerified(tx, *fetched)
		verified = true
	}

	if !tx.Incoming() {
		return string(reconcile.OutcomeIgnored)
	}

	ev, err := reconcile.EventFromTransaction(tx, reconcile.SourceWebhook)
	if err != nil {
		zap.L().Warn("Invalid webhook transaction", zap.String("gateway_tx_id", tx.Id.String()), zap.Error(err))
		return resultInvalid
	}

	ctx = models.WithGatewayContext(ctx, &models.GatewayContext{
		Source:     string(reconcile.SourceWebhook),
		RemoteAddr: clientIP,
		RawStatus:  tx.Status,
		Verified:   verified,
		ReceivedAt: time.Now(),
	})

	res, err := s.engine.Reconcile(ctx, ev)
	if err != nil {
		if errors.Is(err, reconcile.ErrInvalidEvent) {
			zap.L().Warn("Rejected webhook event", zap.String("gateway_tx_id", ev.GatewayTxId), zap.Error(err))
			return resultInvalid
		}
		zap.L().Error("Webhook processing failed", zap.String("gateway_tx_id", ev.GatewayTxId), zap.Error(err))
		return resultError
	}

	zap.L().Info("Webhook processed",
		zap.String("gateway_tx_id", ev.GatewayTxId),
		zap.String("outcome", string(res.Outcome)),
		zap.String("reason", res.Reason),
		zap.String("deposit_id", res.DepositId),
		zap.Bool("verified", verified))
	return string(res.Outcome)
}

// parseCallback accepts JSON or form-encoded deliveries.
func parseCallback(c *gin.Context) (models.GatewayTransaction, error) {
	var tx models.GatewayTransaction
	if c.ContentType() == binding.MIMEJSON {
		if err := c.ShouldBindJSON(&tx); err != nil {
			return tx, err
		}
		return tx, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return tx, err
	}
	form := c.Request.PostForm
	confirmations, _ := strconv.Atoi(strings.TrimSpace(form.Get("blockchain_confirmations")))
	return models.GatewayTransaction{
		Id:             models.FlexString(form.Get("id")),
		Type:           form.Get("type"),
		Address:        form.Get("address"),
		DestTag:        models.FlexString(form.Get("dest_tag")),
		Label:          form.Get("label"),
		Currency:       form.Get("currency"),
		Amount:         models.FlexString(form.Get("amount")),
		Status:         form.Get("status"),
		BlockchainHash: form.Get("blockchain_hash"),
		Confirmations:  confirmations,
		CreatedAt:      form.Get("created_at"),
	}, nil
}

// mergeVerified prefers the gateway's own record, keeping payload fields it
// leaves empty.
func mergeVerified(payload, fetched models.GatewayTransaction) models.GatewayTransaction {
	out := fetched
	if out.Id == "" {
		out.Id = payload.Id
	}
	if out.Label == "" {
		out.Label = payload.Label
	}
	if out.DestTag == "" {
		out.DestTag = payload.DestTag
	}
	if out.Currency == "" {
		out.Currency = payload.Currency
	}
	if out.CreatedAt == "" {
		out.CreatedAt = payload.CreatedAt
	}
	return out
}
