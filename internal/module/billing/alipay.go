package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/alipay"
	"go.uber.org/zap"

	"github.com/notecompanion/server/internal/shared/config"
)

// AlipayHandler handles inbound Alipay trade notifications. Alipay is
// the alternate top-up purchase source; its trade statuses run through
// the same account-status normalizer as Stripe's.
type AlipayHandler struct {
	service *Service
	cfg     *config.BillingConfig
	logger  *zap.Logger
}

// NewAlipayHandler creates a new Alipay webhook handler.
func NewAlipayHandler(service *Service, cfg *config.BillingConfig, logger *zap.Logger) *AlipayHandler {
	return &AlipayHandler{
		service: service,
		cfg:     cfg,
		logger:  logger,
	}
}

// RegisterRoutes registers the Alipay webhook route.
func (h *AlipayHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/alipay", h.HandleNotify)
}

// HandleNotify verifies and processes one Alipay trade notification.
// Alipay expects the literal body "success" on acknowledgement and
// redelivers on anything else.
// POST /webhooks/alipay
func (h *AlipayHandler) HandleNotify(c *gin.Context) {
	notify, err := alipay.ParseNotifyToBodyMap(c.Request)
	if err != nil {
		h.logger.Error("parse alipay notify", zap.Error(err))
		c.String(http.StatusBadRequest, "fail")
		return
	}

	if err := h.verifySign(notify); err != nil {
		h.logger.Warn("invalid alipay notify signature", zap.Error(err))
		c.String(http.StatusBadRequest, "fail")
		return
	}

	eventID := notify.Get("notify_id")
	if eventID == "" {
		eventID = notify.Get("trade_no")
	}

	tradeStatus := notify.Get("trade_status")
	err = h.service.ProcessEvent(c.Request.Context(), "alipay", eventID, tradeStatus, func(ctx context.Context) error {
		return h.handleTrade(ctx, notify)
	})
	if err != nil {
		h.logger.Error("process alipay notify",
			zap.String("trade_no", notify.Get("trade_no")),
			zap.Error(err),
		)
		c.String(http.StatusInternalServerError, "fail")
		return
	}

	c.String(http.StatusOK, "success")
}

func (h *AlipayHandler) verifySign(notify gopay.BodyMap) error {
	var (
		ok  bool
		err error
	)
	if h.cfg.AlipayPublicCert != "" {
		ok, err = alipay.VerifySignWithCert([]byte(h.cfg.AlipayPublicCert), notify)
	} else {
		return errors.New("alipay public cert not configured")
	}
	if err != nil {
		return fmt.Errorf("verify alipay sign: %w", err)
	}
	if !ok {
		return errors.New("alipay signature mismatch")
	}
	return nil
}

func (h *AlipayHandler) handleTrade(ctx context.Context, notify gopay.BodyMap) error {
	status := notify.Get("trade_status")
	userID, tierID := parsePassbackParams(notify.Get("passback_params"))

	if userID == "" {
		h.logger.Warn("alipay notify without user reference",
			zap.String("trade_no", notify.Get("trade_no")),
		)
		return nil
	}

	// Only settled trades grant anything; closed trades for untaken
	// payments need no ledger change.
	switch status {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
	default:
		h.logger.Info("ignoring alipay trade status",
			zap.String("trade_no", notify.Get("trade_no")),
			zap.String("status", status),
		)
		return nil
	}

	if tierID == "" {
		return fmt.Errorf("alipay trade %s has no tier reference", notify.Get("trade_no"))
	}

	tier, err := h.service.tiers.Get(ctx, tierID)
	if err != nil {
		return fmt.Errorf("resolve tier %s: %w", tierID, err)
	}

	return h.service.GrantTopUpPurchase(ctx, userID, tier)
}

// parsePassbackParams extracts the user and tier references the
// checkout flow tucked into passback_params as a URL query string.
func parsePassbackParams(raw string) (userID, tierID string) {
	if raw == "" {
		return "", ""
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "", ""
	}
	return values.Get("user_id"), values.Get("tier_id")
}
