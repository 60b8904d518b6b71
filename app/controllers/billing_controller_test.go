package controllers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/sheetgenius/sheetgenius/app/models"
	"github.com/sheetgenius/sheetgenius/internal/pkg/billing"
)

type stubBillingRepo struct {
	updates []billing.ProfileBillingUpdate
	events  map[string]*models.BillingWebhookEvent
}

func newStubBillingRepo() *stubBillingRepo {
	return &stubBillingRepo{events: map[string]*models.BillingWebhookEvent{}}
}

func (s *stubBillingRepo) UpdateProfileBilling(update billing.ProfileBillingUpdate) error {
	s.updates = append(s.updates, update)
	return nil
}

func (s *stubBillingRepo) GetProfileByUserID(userID uint) (*models.UserProfile, error) {
	return nil, errors.New("record not found")
}

func (s *stubBillingRepo) GetUserByID(userID uint) (*models.User, error) {
	return nil, errors.New("record not found")
}

func (s *stubBillingRepo) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := s.events[key]; ok {
		return false, existing, nil
	}
	event.ID = uint(len(s.events) + 1)
	s.events[key] = event
	return true, event, nil
}

func (s *stubBillingRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, event := range s.events {
		if event.ID == id {
			event.ProcessingError = processingError
			if processingError == "" {
				now := time.Now()
				event.ProcessedAt = &now
			}
			return nil
		}
	}
	return errors.New("no such event")
}

type stubStripeAPI struct {
	checkoutErr   error
	subscriptions map[string]*stripe.Subscription
}

func (s *stubStripeAPI) CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if s.checkoutErr != nil {
		return nil, s.checkoutErr
	}
	return &stripe.CheckoutSession{ID: "cs_test_123"}, nil
}

func (s *stubStripeAPI) GetSubscription(id string) (*stripe.Subscription, error) {
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

func (s *stubStripeAPI) FindCheckoutSessionBySubscription(subscriptionID string) (*stripe.CheckoutSession, error) {
	return nil, billing.ErrNoSession
}

func (s *stubStripeAPI) CreatePortalSession(customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/p/session"}, nil
}

func setupBillingTest(t *testing.T, api *stubStripeAPI) *stubBillingRepo {
	t.Helper()
	repo := newStubBillingRepo()
	prices := billing.PriceTable{StarterPriceID: "price_starter", ProPriceID: "price_pro"}
	InitBillingController(billing.NewService(repo, api, prices), api)
	return repo
}

func signStripePayload(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventPayload(t *testing.T, id, eventType string, object interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]interface{}{
		"id":   id,
		"type": eventType,
		"data": map[string]interface{}{"object": json.RawMessage(raw)},
	})
	require.NoError(t, err)
	return payload
}

func postWebhook(t *testing.T, app *fiber.App, payload []byte, signature string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHandleStripeWebhookInvalidSignature(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	repo := setupBillingTest(t, &stubStripeAPI{})

	app := fiber.New()
	app.Post("/webhook", HandleStripeWebhook)

	payload := stripeEventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{"id": "cs_1"})
	resp := postWebhook(t, app, payload, "t=123,v1=deadbeef")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, repo.updates)

	resp = postWebhook(t, app, payload, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, repo.updates)
}

func TestHandleStripeWebhookCheckoutCompleted(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	api := &stubStripeAPI{
		subscriptions: map[string]*stripe.Subscription{
			"sub_1": {
				ID:       "sub_1",
				Customer: &stripe.Customer{ID: "cus_1"},
				Items: &stripe.SubscriptionItemList{
					Data: []*stripe.SubscriptionItem{
						{Price: &stripe.Price{ID: "price_pro"}},
					},
				},
			},
		},
	}
	repo := setupBillingTest(t, api)

	app := fiber.New()
	app.Post("/webhook", HandleStripeWebhook)

	payload := stripeEventPayload(t, "evt_2", "checkout.session.completed", map[string]interface{}{
		"id":           "cs_2",
		"metadata":     map[string]string{"userId": "42"},
		"customer":     "cus_1",
		"subscription": "sub_1",
	})
	resp := postWebhook(t, app, payload, signStripePayload(t, payload, "whsec_test"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"received":true}`, string(body))

	require.Len(t, repo.updates, 1)
	assert.Equal(t, uint(42), repo.updates[0].UserID)
	assert.Equal(t, "pro", repo.updates[0].Plan)
	assert.Equal(t, "cus_1", repo.updates[0].StripeCustomerID)
	assert.Equal(t, "sub_1", repo.updates[0].StripeSubscriptionID)

	// Replaying the identical event is acknowledged but not re-applied.
	resp = postWebhook(t, app, payload, signStripePayload(t, payload, "whsec_test"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, repo.updates, 1)
}

func TestHandleStripeWebhookRedeliveryRetriesFailedEvent(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	api := &stubStripeAPI{subscriptions: map[string]*stripe.Subscription{}}
	repo := setupBillingTest(t, api)

	app := fiber.New()
	app.Post("/webhook", HandleStripeWebhook)

	payload := stripeEventPayload(t, "evt_retry", "checkout.session.completed", map[string]interface{}{
		"id":           "cs_retry",
		"metadata":     map[string]string{"userId": "42"},
		"customer":     "cus_1",
		"subscription": "sub_1",
	})

	// First delivery: the subscription fetch fails, the event is stored with
	// the error but stays acknowledged and unprocessed.
	resp := postWebhook(t, app, payload, signStripePayload(t, payload, "whsec_test"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, repo.updates)
	stored := repo.events["stripe/evt_retry"]
	require.NotNil(t, stored)
	assert.Nil(t, stored.ProcessedAt)
	assert.NotEmpty(t, stored.ProcessingError)

	// Stripe redelivers once the subscription is fetchable; the retry applies
	// the plan and marks the event processed.
	api.subscriptions["sub_1"] = &stripe.Subscription{
		ID:       "sub_1",
		Customer: &stripe.Customer{ID: "cus_1"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: "price_pro"}},
			},
		},
	}
	resp = postWebhook(t, app, payload, signStripePayload(t, payload, "whsec_test"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, repo.updates, 1)
	assert.Equal(t, uint(42), repo.updates[0].UserID)
	assert.Equal(t, "pro", repo.updates[0].Plan)
	require.NotNil(t, stored.ProcessedAt)
	assert.Empty(t, stored.ProcessingError)
}

func TestHandleStripeWebhookMissingUserIDStillAcknowledged(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	repo := setupBillingTest(t, &stubStripeAPI{})

	app := fiber.New()
	app.Post("/webhook", HandleStripeWebhook)

	payload := stripeEventPayload(t, "evt_3", "checkout.session.completed", map[string]interface{}{
		"id":           "cs_3",
		"subscription": "sub_3",
	})
	resp := postWebhook(t, app, payload, signStripePayload(t, payload, "whsec_test"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, repo.updates)
}

func TestHandleStripeWebhookIgnoredEventType(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	repo := setupBillingTest(t, &stubStripeAPI{})

	app := fiber.New()
	app.Post("/webhook", HandleStripeWebhook)

	payload := stripeEventPayload(t, "evt_4", "invoice.paid", map[string]interface{}{"id": "in_1"})
	resp := postWebhook(t, app, payload, signStripePayload(t, payload, "whsec_test"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, repo.updates)
	assert.Empty(t, repo.events)
}

func TestHandleCreateCheckoutSession(t *testing.T) {
	setupBillingTest(t, &stubStripeAPI{})

	app := fiber.New()
	app.Post("/checkout", HandleCreateCheckoutSession)

	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader([]byte(`{"priceId":"price_pro","userId":"42"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"cs_test_123"}`, string(body))
}

func TestHandleCreateCheckoutSessionMissingParameter(t *testing.T) {
	setupBillingTest(t, &stubStripeAPI{})

	app := fiber.New()
	app.Post("/checkout", HandleCreateCheckoutSession)

	for _, body := range []string{`{}`, `{"priceId":"price_pro"}`, `{"userId":"42"}`} {
		req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "body %s", body)
	}
}

func TestHandleCreateCheckoutSessionUpstreamFailure(t *testing.T) {
	setupBillingTest(t, &stubStripeAPI{checkoutErr: errors.New("stripe down")})

	app := fiber.New()
	app.Post("/checkout", HandleCreateCheckoutSession)

	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader([]byte(`{"priceId":"price_pro","userId":"42"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
