package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v79"

	"github.com/sheetgenius/sheetgenius/app/models"
)

type fakeRepository struct {
	updates   []ProfileBillingUpdate
	updateErr error

	profiles map[uint]*models.UserProfile
	users    map[uint]*models.User

	events        map[string]*models.BillingWebhookEvent
	processedIDs  []uint
	processedErrs []string
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		profiles: map[uint]*models.UserProfile{},
		users:    map[uint]*models.User{},
		events:   map[string]*models.BillingWebhookEvent{},
	}
}

func (f *fakeRepository) UpdateProfileBilling(update ProfileBillingUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeRepository) GetProfileByUserID(userID uint) (*models.UserProfile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return nil, errors.New("record not found")
	}
	return p, nil
}

func (f *fakeRepository) GetUserByID(userID uint) (*models.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, errors.New("record not found")
	}
	return u, nil
}

func (f *fakeRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := f.events[key]; ok {
		return false, existing, nil
	}
	event.ID = uint(len(f.events) + 1)
	f.events[key] = event
	return true, event, nil
}

func (f *fakeRepository) MarkWebhookProcessed(id uint, processingError string) error {
	f.processedIDs = append(f.processedIDs, id)
	f.processedErrs = append(f.processedErrs, processingError)
	return nil
}

type fakeAPI struct {
	subscriptions map[string]*stripe.Subscription
	sessionsBySub map[string]*stripe.CheckoutSession
	subErr        error
}

func (f *fakeAPI) CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: "cs_test_new"}, nil
}

func (f *fakeAPI) GetSubscription(id string) (*stripe.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

func (f *fakeAPI) FindCheckoutSessionBySubscription(subscriptionID string) (*stripe.CheckoutSession, error) {
	sess, ok := f.sessionsBySub[subscriptionID]
	if !ok {
		return nil, ErrNoSession
	}
	return sess, nil
}

func (f *fakeAPI) CreatePortalSession(customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/session"}, nil
}

func subscriptionWithPrice(id, priceID, customerID string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Customer: &stripe.Customer{ID: customerID},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: priceID}},
			},
		},
	}
}

func testPrices() PriceTable {
	return PriceTable{StarterPriceID: "price_starter", ProPriceID: "price_pro"}
}

func TestHandleCheckoutCompletedAppliesPlan(t *testing.T) {
	repo := newFakeRepository()
	api := &fakeAPI{
		subscriptions: map[string]*stripe.Subscription{
			"sub_1": subscriptionWithPrice("sub_1", "price_pro", "cus_1"),
		},
	}
	svc := NewService(repo, api, testPrices())

	sess := &stripe.CheckoutSession{
		ID:           "cs_1",
		Metadata:     map[string]string{"userId": "42"},
		Customer:     &stripe.Customer{ID: "cus_1"},
		Subscription: &stripe.Subscription{ID: "sub_1"},
	}
	if err := svc.HandleCheckoutCompleted(context.Background(), sess); err != nil {
		t.Fatalf("HandleCheckoutCompleted: %v", err)
	}

	if len(repo.updates) != 1 {
		t.Fatalf("expected 1 profile update, got %d", len(repo.updates))
	}
	got := repo.updates[0]
	if got.UserID != 42 || got.Plan != "pro" || got.StripeCustomerID != "cus_1" || got.StripeSubscriptionID != "sub_1" {
		t.Fatalf("unexpected update: %+v", got)
	}
}

func TestHandleCheckoutCompletedMissingMetadata(t *testing.T) {
	cases := []struct {
		name string
		sess *stripe.CheckoutSession
	}{
		{
			name: "no user id",
			sess: &stripe.CheckoutSession{
				ID:           "cs_2",
				Subscription: &stripe.Subscription{ID: "sub_2"},
			},
		},
		{
			name: "non numeric user id",
			sess: &stripe.CheckoutSession{
				ID:           "cs_3",
				Metadata:     map[string]string{"userId": "abc"},
				Subscription: &stripe.Subscription{ID: "sub_3"},
			},
		},
		{
			name: "no subscription",
			sess: &stripe.CheckoutSession{
				ID:       "cs_4",
				Metadata: map[string]string{"userId": "7"},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeRepository()
			svc := NewService(repo, &fakeAPI{}, testPrices())
			if err := svc.HandleCheckoutCompleted(context.Background(), tc.sess); err != nil {
				t.Fatalf("expected nil error for skipped event, got %v", err)
			}
			if len(repo.updates) != 0 {
				t.Fatalf("expected no profile update, got %d", len(repo.updates))
			}
		})
	}
}

func TestHandleSubscriptionCreatedCorrelatesSession(t *testing.T) {
	repo := newFakeRepository()
	api := &fakeAPI{
		subscriptions: map[string]*stripe.Subscription{
			"sub_9": subscriptionWithPrice("sub_9", "price_starter", "cus_9"),
		},
		sessionsBySub: map[string]*stripe.CheckoutSession{
			"sub_9": {
				ID:       "cs_9",
				Metadata: map[string]string{"userId": "9"},
			},
		},
	}
	svc := NewService(repo, api, testPrices())

	sub := subscriptionWithPrice("sub_9", "price_starter", "cus_9")
	if err := svc.HandleSubscriptionCreated(context.Background(), sub); err != nil {
		t.Fatalf("HandleSubscriptionCreated: %v", err)
	}

	if len(repo.updates) != 1 {
		t.Fatalf("expected 1 profile update, got %d", len(repo.updates))
	}
	got := repo.updates[0]
	if got.UserID != 9 || got.Plan != "starter" || got.StripeCustomerID != "cus_9" || got.StripeSubscriptionID != "sub_9" {
		t.Fatalf("unexpected update: %+v", got)
	}
}

func TestHandleSubscriptionCreatedNoSession(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeAPI{}, testPrices())

	sub := subscriptionWithPrice("sub_missing", "price_pro", "cus_x")
	if err := svc.HandleSubscriptionCreated(context.Background(), sub); err != nil {
		t.Fatalf("expected nil error when no session exists, got %v", err)
	}
	if len(repo.updates) != 0 {
		t.Fatalf("expected no profile update, got %d", len(repo.updates))
	}
}

func TestHandleSubscriptionCreatedUnknownPriceFallsBackToFree(t *testing.T) {
	repo := newFakeRepository()
	api := &fakeAPI{
		subscriptions: map[string]*stripe.Subscription{
			"sub_u": subscriptionWithPrice("sub_u", "price_legacy", "cus_u"),
		},
		sessionsBySub: map[string]*stripe.CheckoutSession{
			"sub_u": {
				ID:       "cs_u",
				Metadata: map[string]string{"userId": "12"},
			},
		},
	}
	svc := NewService(repo, api, testPrices())

	if err := svc.HandleSubscriptionCreated(context.Background(), subscriptionWithPrice("sub_u", "price_legacy", "cus_u")); err != nil {
		t.Fatalf("HandleSubscriptionCreated: %v", err)
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected 1 profile update, got %d", len(repo.updates))
	}
	if repo.updates[0].Plan != "free" {
		t.Fatalf("expected unmapped price to resolve to free, got %q", repo.updates[0].Plan)
	}
}

func TestHandleCheckoutCompletedSubscriptionFetchError(t *testing.T) {
	repo := newFakeRepository()
	api := &fakeAPI{subErr: errors.New("stripe down")}
	svc := NewService(repo, api, testPrices())

	sess := &stripe.CheckoutSession{
		ID:           "cs_err",
		Metadata:     map[string]string{"userId": "3"},
		Subscription: &stripe.Subscription{ID: "sub_err"},
	}
	if err := svc.HandleCheckoutCompleted(context.Background(), sess); err == nil {
		t.Fatal("expected error when subscription fetch fails")
	}
	if len(repo.updates) != 0 {
		t.Fatalf("expected no profile update on fetch error, got %d", len(repo.updates))
	}
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeAPI{}, testPrices())

	in := WebhookEventInput{
		Provider:        "Stripe",
		ProviderEventID: "evt_1",
		EventType:       "checkout.session.completed",
		PayloadJSON:     `{"id":"evt_1"}`,
		SignatureValid:  true,
	}
	created, event, err := svc.RecordWebhookEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("RecordWebhookEvent: %v", err)
	}
	if !created {
		t.Fatal("expected first event to be created")
	}
	if event.Provider != "stripe" {
		t.Fatalf("expected provider normalized to lowercase, got %q", event.Provider)
	}

	created, _, err = svc.RecordWebhookEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("RecordWebhookEvent replay: %v", err)
	}
	if created {
		t.Fatal("expected replayed event to be deduplicated")
	}
}

func TestRecordWebhookEventHashFallbackID(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeAPI{}, testPrices())

	in := WebhookEventInput{
		Provider:    "stripe",
		EventType:   "invoice.paid",
		PayloadJSON: `{"amount":100}`,
	}
	created, event, err := svc.RecordWebhookEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("RecordWebhookEvent: %v", err)
	}
	if !created {
		t.Fatal("expected event to be created")
	}
	if len(event.ProviderEventID) == 0 || event.ProviderEventID[:5] != "hash:" {
		t.Fatalf("expected hash-derived event id, got %q", event.ProviderEventID)
	}

	created, _, err = svc.RecordWebhookEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("RecordWebhookEvent replay: %v", err)
	}
	if created {
		t.Fatal("expected identical payload to deduplicate")
	}
}
