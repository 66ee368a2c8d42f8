package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/shared/config"
)

// maxWebhookBodyBytes bounds inbound webhook payloads.
const maxWebhookBodyBytes = 1 << 20

// StripeHandler handles inbound Stripe webhook events.
type StripeHandler struct {
	service       *Service
	webhookSecret string
	logger        *zap.Logger
}

// NewStripeHandler creates a new Stripe webhook handler.
func NewStripeHandler(service *Service, cfg *config.BillingConfig, logger *zap.Logger) *StripeHandler {
	return &StripeHandler{
		service:       service,
		webhookSecret: cfg.StripeWebhookSecret,
		logger:        logger,
	}
}

// RegisterRoutes registers the Stripe webhook route.
func (h *StripeHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/stripe", h.HandleWebhook)
}

// HandleWebhook verifies and processes one Stripe event.
// POST /webhooks/stripe
func (h *StripeHandler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Error("read stripe webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.logger.Warn("invalid stripe webhook signature", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	err = h.service.ProcessEvent(c.Request.Context(), "stripe", event.ID, string(event.Type), func(ctx context.Context) error {
		return h.dispatch(ctx, &event)
	})
	if err != nil {
		h.logger.Error("process stripe webhook",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StripeHandler) dispatch(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return h.handleSubscriptionChanged(ctx, event)
	case "customer.subscription.deleted":
		return h.handleSubscriptionDeleted(ctx, event)
	case "invoice.paid":
		return h.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return h.handleInvoiceFailed(ctx, event)
	case "payment_intent.succeeded":
		return h.handlePaymentIntentSucceeded(ctx, event)
	case "payment_intent.payment_failed":
		return h.handlePaymentIntentFailed(ctx, event)
	default:
		h.logger.Debug("unhandled stripe event type", zap.String("type", string(event.Type)))
		return nil
	}
}

func (h *StripeHandler) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	userID := session.ClientReferenceID
	if userID == "" {
		userID = session.Metadata["user_id"]
	}
	if userID == "" {
		h.logger.Warn("checkout session without user reference", zap.String("session_id", session.ID))
		return nil
	}

	tierID := session.Metadata["tier_id"]
	if tierID == "" {
		h.logger.Warn("checkout session without tier", zap.String("session_id", session.ID))
		return nil
	}

	tier, err := h.service.tiers.Get(ctx, tierID)
	if err != nil {
		return fmt.Errorf("resolve tier %s: %w", tierID, err)
	}

	if tier.IsTopUp() {
		return h.service.GrantTopUpPurchase(ctx, userID, tier)
	}

	now := time.Now()
	return h.service.ApplySubscriptionState(ctx, userID, string(session.PaymentStatus), tier, &now)
}

func (h *StripeHandler) handleSubscriptionChanged(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	userID := sub.Metadata["user_id"]
	if userID == "" {
		h.logger.Warn("subscription without user metadata", zap.String("subscription_id", sub.ID))
		return nil
	}

	tier, err := h.resolveSubscriptionTier(ctx, &sub)
	if err != nil {
		return err
	}

	var paidAt *time.Time
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0)
		paidAt = &t
	}

	return h.service.ApplySubscriptionState(ctx, userID, string(sub.Status), tier, paidAt)
}

func (h *StripeHandler) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	userID := sub.Metadata["user_id"]
	if userID == "" {
		h.logger.Warn("subscription without user metadata", zap.String("subscription_id", sub.ID))
		return nil
	}

	return h.service.ApplySubscriptionState(ctx, userID, "canceled", nil, nil)
}

func (h *StripeHandler) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	userID := invoiceUserID(&inv)
	if userID == "" {
		h.logger.Warn("invoice without user metadata", zap.String("invoice_id", inv.ID))
		return nil
	}

	tier, err := h.invoiceTier(ctx, &inv)
	if err != nil {
		return err
	}

	now := time.Now()
	return h.service.ApplySubscriptionState(ctx, userID, "active", tier, &now)
}

func (h *StripeHandler) handleInvoiceFailed(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	userID := invoiceUserID(&inv)
	if userID == "" {
		h.logger.Warn("invoice without user metadata", zap.String("invoice_id", inv.ID))
		return nil
	}

	return h.service.MarkPaymentFailed(ctx, userID)
}

func (h *StripeHandler) handlePaymentIntentSucceeded(ctx context.Context, event *stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("unmarshal payment intent: %w", err)
	}

	userID := pi.Metadata["user_id"]
	tierID := pi.Metadata["tier_id"]
	if userID == "" || tierID == "" {
		// Checkout-session purchases are handled by their session event.
		return nil
	}

	tier, err := h.service.tiers.Get(ctx, tierID)
	if err != nil {
		return fmt.Errorf("resolve tier %s: %w", tierID, err)
	}
	if !tier.IsTopUp() {
		return nil
	}

	return h.service.GrantTopUpPurchase(ctx, userID, tier)
}

func (h *StripeHandler) handlePaymentIntentFailed(ctx context.Context, event *stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("unmarshal payment intent: %w", err)
	}

	h.logger.Warn("payment intent failed",
		zap.String("payment_intent_id", pi.ID),
		zap.String("user_id", pi.Metadata["user_id"]),
	)
	return nil
}

func (h *StripeHandler) resolveSubscriptionTier(ctx context.Context, sub *stripe.Subscription) (*model.Tier, error) {
	var priceID string
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	if priceID == "" {
		return nil, fmt.Errorf("subscription %s has no price", sub.ID)
	}

	tier, err := h.service.tiers.GetByStripePriceID(ctx, priceID)
	if err != nil {
		return nil, fmt.Errorf("resolve tier for price %s: %w", priceID, err)
	}
	return tier, nil
}

func (h *StripeHandler) invoiceTier(ctx context.Context, inv *stripe.Invoice) (*model.Tier, error) {
	var priceID string
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Price != nil {
		priceID = inv.Lines.Data[0].Price.ID
	}
	if priceID == "" {
		return nil, fmt.Errorf("invoice %s has no price", inv.ID)
	}

	tier, err := h.service.tiers.GetByStripePriceID(ctx, priceID)
	if err != nil {
		return nil, fmt.Errorf("resolve tier for price %s: %w", priceID, err)
	}
	return tier, nil
}

func invoiceUserID(inv *stripe.Invoice) string {
	if inv.SubscriptionDetails != nil && inv.SubscriptionDetails.Metadata["user_id"] != "" {
		return inv.SubscriptionDetails.Metadata["user_id"]
	}
	return inv.Metadata["user_id"]
}
