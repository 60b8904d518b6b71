package billing

import (
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/sheetgenius/sheetgenius/internal/pkg/env"
)

// API is the narrow surface of the Stripe SDK the webhook and checkout flows
// need. Tests substitute it with a fake.
type API interface {
	CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetSubscription(id string) (*stripe.Subscription, error)
	FindCheckoutSessionBySubscription(subscriptionID string) (*stripe.CheckoutSession, error)
	CreatePortalSession(customerID, returnURL string) (*stripe.BillingPortalSession, error)
}

type stripeAPI struct {
	sc *client.API
}

// NewStripeAPIFromEnv builds the Stripe client from STRIPE_SECRET_KEY.
// A missing key is a configuration defect and fails construction.
func NewStripeAPIFromEnv() (API, error) {
	key := strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	if key == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return &stripeAPI{sc: sc}, nil
}

func (a *stripeAPI) CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return a.sc.CheckoutSessions.New(params)
}

func (a *stripeAPI) GetSubscription(id string) (*stripe.Subscription, error) {
	return a.sc.Subscriptions.Get(id, nil)
}

// FindCheckoutSessionBySubscription returns the checkout session that created
// the given subscription, or gorm-style not-found semantics via ErrNoSession.
func (a *stripeAPI) FindCheckoutSessionBySubscription(subscriptionID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionListParams{
		Subscription: stripe.String(subscriptionID),
	}
	params.Limit = stripe.Int64(1)
	iter := a.sc.CheckoutSessions.List(params)
	for iter.Next() {
		return iter.CheckoutSession(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoSession
}

func (a *stripeAPI) CreatePortalSession(customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	return a.sc.BillingPortalSessions.New(params)
}

// ErrNoSession is returned when no checkout session exists for a subscription.
var ErrNoSession = errors.New("no checkout session found for subscription")

// ConstructWebhookEvent verifies the Stripe-Signature header over the raw
// payload and returns the parsed event. Nothing may be processed when this
// fails.
func ConstructWebhookEvent(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return stripe.Event{}, errors.New("webhook signing secret is not configured")
	}
	return webhook.ConstructEventWithOptions(
		payload,
		sigHeader,
		secret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
}

// SubscriptionCheckoutParams builds the params for a subscription-mode
// checkout session carrying the user id in metadata for webhook correlation.
func SubscriptionCheckoutParams(priceID, userID, successURL, cancelURL string) *stripe.CheckoutSessionParams {
	return &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Params: stripe.Params{
			Metadata: map[string]string{
				"userId": userID,
			},
		},
	}
}
