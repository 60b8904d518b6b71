package controllers

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v79"

	"github.com/sheetgenius/sheetgenius/app/models"
	"github.com/sheetgenius/sheetgenius/internal/pkg/billing"
	"github.com/sheetgenius/sheetgenius/internal/pkg/env"
	"github.com/sheetgenius/sheetgenius/internal/pkg/metrics/counter"
	"github.com/sheetgenius/sheetgenius/internal/pkg/usercontext"
)

// Webhook payloads beyond this size are rejected before signature verification.
const webhookBodyLimit = 64 * 1024

var (
	billingSvc *billing.Service
	billingAPI billing.API
)

// InitBillingController wires the billing collaborators once at startup.
func InitBillingController(svc *billing.Service, api billing.API) {
	billingSvc = svc
	billingAPI = api
}

type createCheckoutRequest struct {
	PriceID string `json:"priceId"`
	UserID  string `json:"userId"`
}

// HandleCreateCheckoutSession creates a subscription-mode checkout session
// carrying the user id in metadata for later webhook correlation.
func HandleCreateCheckoutSession(c *fiber.Ctx) error {
	var req createCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_parameter", "message": "priceId and userId are required"})
	}
	req.PriceID = strings.TrimSpace(req.PriceID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.PriceID == "" || req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_parameter", "message": "priceId and userId are required"})
	}

	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:3000"), "/")
	params := billing.SubscriptionCheckoutParams(
		req.PriceID,
		req.UserID,
		base+"/dashboard?session_id={CHECKOUT_SESSION_ID}",
		base+"/pricing",
	)

	sess, err := billingAPI.CreateCheckoutSession(params)
	if err != nil {
		log.Printf("stripe checkout session creation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_failed"})
	}

	return c.JSON(fiber.Map{"sessionId": sess.ID})
}

// HandleStripeWebhook verifies and applies Stripe billing events. Once the
// signature checks out, the processor always gets a success acknowledgement;
// internal failures are logged, never bounced back as retry fodder.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	if len(rawBody) > webhookBodyLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "payload_too_large"})
	}

	sigHeader := c.Get("Stripe-Signature")
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	event, err := billing.ConstructWebhookEvent(rawBody, sigHeader, secret)
	if err != nil {
		log.Printf("stripe webhook signature verification failed: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	if err := counter.AddWebhookEvent(); err != nil {
		log.Printf("webhook counter increment failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			log.Printf("stripe webhook %s: malformed checkout session payload: %v", event.ID, err)
			return c.JSON(fiber.Map{"received": true})
		}
		processStripeEvent(ctx, event, func() error {
			return billingSvc.HandleCheckoutCompleted(ctx, &sess)
		})
	case "customer.subscription.created":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			log.Printf("stripe webhook %s: malformed subscription payload: %v", event.ID, err)
			return c.JSON(fiber.Map{"received": true})
		}
		processStripeEvent(ctx, event, func() error {
			return billingSvc.HandleSubscriptionCreated(ctx, &sub)
		})
	default:
		log.Printf("stripe webhook %s: ignoring event type %s", event.ID, event.Type)
	}

	return c.JSON(fiber.Map{"received": true})
}

// processStripeEvent records the event for dedup and runs the handler, then
// marks the outcome. Deliveries whose stored row never reached a successful
// apply are retried on redelivery; only successfully processed events are
// skipped. All failures end up in the log only.
func processStripeEvent(ctx context.Context, event stripe.Event, handle func() error) {
	created, stored, err := billingSvc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(event.Data.Raw),
		SignatureValid:  true,
	})
	if err != nil {
		log.Printf("stripe webhook %s: persist failed: %v", event.ID, err)
		return
	}
	if !created {
		if stored.ProcessedAt != nil {
			log.Printf("stripe webhook %s: duplicate delivery, skipping", event.ID)
			return
		}
		log.Printf("stripe webhook %s: redelivery of unprocessed event, retrying", event.ID)
	}

	procErr := handle()
	if procErr != nil {
		log.Printf("stripe webhook %s: processing failed: %v", event.ID, procErr)
	}
	if err := billingSvc.MarkWebhookProcessed(ctx, stored.ID, procErr); err != nil {
		log.Printf("stripe webhook %s: mark processed failed: %v", event.ID, err)
	}
}

// HandleCreatePortalSession opens a billing portal session for the
// authenticated user's Stripe customer.
func HandleCreatePortalSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	customerID, err := billingSvc.CustomerIDForUser(ctx, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no_billing_account", "message": "No subscription is linked to this account"})
	}

	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:3000"), "/")
	portal, err := billingAPI.CreatePortalSession(customerID, base+"/dashboard")
	if err != nil {
		log.Printf("stripe portal session creation failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "portal_failed"})
	}

	return c.JSON(fiber.Map{"url": portal.URL})
}
