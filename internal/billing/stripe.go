package billing

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/subscription"

	"nestora-backend/internal/models"
)

// Init configures the Stripe client from the environment. Plan changes are
// applied locally either way; the Stripe sync only runs when a key is set.
func Init() {
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		log.Warn("STRIPE_SECRET_KEY not set, plan changes will not sync to Stripe")
		return
	}
	stripe.Key = key
	log.Info("✅ Stripe client initialized")
}

// Enabled reports whether the Stripe sync is configured.
func Enabled() bool {
	return stripe.Key != ""
}

// planPriceID maps a plan name to its Stripe price via PLAN_PRICE_<NAME> env
// vars, e.g. PLAN_PRICE_GROWTH=price_123.
func planPriceID(plan string) string {
	return os.Getenv("PLAN_PRICE_" + sanitizeEnvKey(plan))
}

func sanitizeEnvKey(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z':
			out = append(out, ch-('a'-'A'))
		case ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// SyncPlanChange moves the organization's Stripe subscription onto the new
// plan's price. A missing subscription or price mapping is logged, not fatal:
// billing reconciliation owns the eventual consistency.
func SyncPlanChange(org models.Organization, newPlan string) error {
	if !Enabled() {
		return nil
	}
	if org.StripeSubscriptionID == "" {
		log.WithField("organization_id", org.ID).Info("organization has no Stripe subscription, skipping sync")
		return nil
	}

	priceID := planPriceID(newPlan)
	if priceID == "" {
		log.WithField("plan", newPlan).Warn("no Stripe price configured for plan, skipping sync")
		return nil
	}

	current, err := subscription.Get(org.StripeSubscriptionID, nil)
	if err != nil {
		return fmt.Errorf("fetch stripe subscription: %w", err)
	}
	if len(current.Items.Data) == 0 {
		return fmt.Errorf("stripe subscription %s has no items", org.StripeSubscriptionID)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	if _, err := subscription.Update(org.StripeSubscriptionID, params); err != nil {
		return fmt.Errorf("update stripe subscription: %w", err)
	}

	log.WithFields(log.Fields{"organization_id": org.ID, "plan": newPlan}).Info("Stripe subscription updated")
	return nil
}
