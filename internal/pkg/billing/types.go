package billing

// ProfileBillingUpdate is the normalized result of resolving a webhook event:
// the plan and billing identifiers to persist on a user's profile row.
type ProfileBillingUpdate struct {
	UserID               uint
	Plan                 string
	StripeCustomerID     string
	StripeSubscriptionID string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
