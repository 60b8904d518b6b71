package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"

	"github.com/sheetgenius/sheetgenius/app/models"
)

var nowFunc = time.Now

// Service reconciles the payment processor's view of a user's subscription
// with the locally stored profile plan.
type Service struct {
	repo   Repository
	api    API
	prices PriceTable

	// Notifier, when set, is called after a plan change has been persisted.
	// Failures are the notifier's problem; reconciliation never depends on it.
	Notifier func(email, plan string)
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, api API, prices PriceTable) *Service {
	return &Service{repo: repo, api: api, prices: prices}
}

// NewServiceFromDB creates a billing service from a GORM DB handle, reading
// the price table from the environment.
func NewServiceFromDB(db *gorm.DB, api API) *Service {
	return NewService(NewRepository(db), api, NewPriceTableFromEnv())
}

// RecordWebhookEvent persists webhook payloads idempotently. The returned
// bool is false when the event id was seen before.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed records the processing outcome for an event. Failed
// events keep their unprocessed state so a redelivery gets another attempt.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// HandleCheckoutCompleted applies a checkout.session.completed event. Events
// that cannot be attributed to a user or subscription are logged and skipped
// without being treated as failures, so the processor still gets its ack.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	userID, ok := userIDFromMetadata(sess.Metadata)
	if !ok {
		log.Printf("stripe checkout.session.completed without metadata.userId, session=%s", sess.ID)
		return nil
	}
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		log.Printf("stripe checkout.session.completed without subscription, session=%s user=%d", sess.ID, userID)
		return nil
	}

	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	return s.applyPlanFromSubscription(ctx, userID, customerID, sess.Subscription.ID)
}

// HandleSubscriptionCreated applies a customer.subscription.created event by
// correlating the subscription back to its checkout session's metadata.
func (s *Service) HandleSubscriptionCreated(ctx context.Context, sub *stripe.Subscription) error {
	sess, err := s.api.FindCheckoutSessionBySubscription(sub.ID)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			log.Printf("stripe customer.subscription.created without checkout session, sub=%s", sub.ID)
			return nil
		}
		return err
	}

	userID, ok := userIDFromMetadata(sess.Metadata)
	if !ok {
		log.Printf("stripe checkout session %s has no metadata.userId, sub=%s", sess.ID, sub.ID)
		return nil
	}

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	return s.applyPlanFromSubscription(ctx, userID, customerID, sub.ID)
}

// applyPlanFromSubscription fetches the subscription, maps its first line
// item's price to a plan tier and persists the result.
func (s *Service) applyPlanFromSubscription(ctx context.Context, userID uint, customerID, subscriptionID string) error {
	_ = ctx
	sub, err := s.api.GetSubscription(subscriptionID)
	if err != nil {
		return err
	}

	priceID := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	plan := s.prices.PlanForPrice(priceID)
	log.Printf("stripe plan resolution: user=%d sub=%s price=%q plan=%s", userID, subscriptionID, priceID, plan)

	if customerID == "" && sub.Customer != nil {
		customerID = sub.Customer.ID
	}

	if err := s.repo.UpdateProfileBilling(ProfileBillingUpdate{
		UserID:               userID,
		Plan:                 string(plan),
		StripeCustomerID:     customerID,
		StripeSubscriptionID: subscriptionID,
	}); err != nil {
		return err
	}

	if s.Notifier != nil {
		if user, err := s.repo.GetUserByID(userID); err == nil {
			s.Notifier(user.Email, string(plan))
		}
	}
	return nil
}

// CustomerIDForUser returns the stored Stripe customer id for a user, used by
// the billing portal endpoint.
func (s *Service) CustomerIDForUser(ctx context.Context, userID uint) (string, error) {
	_ = ctx
	profile, err := s.repo.GetProfileByUserID(userID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(profile.StripeCustomerID) == "" {
		return "", errors.New("no stripe customer linked to user")
	}
	return profile.StripeCustomerID, nil
}

// UserEmail resolves a user's notification address for plan-change mails.
func (s *Service) UserEmail(ctx context.Context, userID uint) (string, error) {
	_ = ctx
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

func userIDFromMetadata(metadata map[string]string) (uint, bool) {
	raw := strings.TrimSpace(metadata["userId"])
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
