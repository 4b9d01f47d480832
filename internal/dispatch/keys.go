package dispatch

import "github.com/google/uuid"

const (
	offerKeyPrefix      = "dispatch:offer:"
	recipientsKeySuffix = ":recipients"
	offerExpiryZSetKey  = "dispatch:offer:expiry"
)

func offerKey(offerID string) string {
	return offerKeyPrefix + offerID
}

func recipientsKey(offerID string) string {
	return offerKeyPrefix + offerID + recipientsKeySuffix
}

// OfferKey and RecipientsKey expose the same key derivation to callers
// outside the package, e.g. internal/realtime's adapter tests, which
// need to predict a mock's expected Redis keys.
func OfferKey(offerID uuid.UUID) string      { return offerKey(offerID.String()) }
func RecipientsKey(offerID uuid.UUID) string { return recipientsKey(offerID.String()) }
