package domain

// DefaultOfferCeiling is the remaining-offer count assumed before the service has answered.
const DefaultOfferCeiling = 30

// OfferState is the client-side view of the scarce promotional offer.
type OfferState struct {
	RemainingOffers int
	HasClaimedOffer bool
	CouponCode      string
}

// ClaimOutcome explains the result of a claim attempt.
type ClaimOutcome string

const (
	// ClaimOutcomeClaimed means the remote service confirmed the claim.
	ClaimOutcomeClaimed ClaimOutcome = "claimed"
	// ClaimOutcomeOptimistic means the claim was recorded locally because the service could not be reached.
	ClaimOutcomeOptimistic ClaimOutcome = "optimistic"
	// ClaimOutcomeAlreadyClaimed means this identity had already claimed the offer.
	ClaimOutcomeAlreadyClaimed ClaimOutcome = "already_claimed"
	// ClaimOutcomeExhausted means no offers were left.
	ClaimOutcomeExhausted ClaimOutcome = "exhausted"
	// ClaimOutcomeFallback means the subscribe path was unreachable and the fallback coupon was issued.
	ClaimOutcomeFallback ClaimOutcome = "fallback"
	// ClaimOutcomeInvalid means the request carried no usable email.
	ClaimOutcomeInvalid ClaimOutcome = "invalid"
	// ClaimOutcomeSuperseded means a reset landed while the claim was in flight, so nothing was recorded.
	ClaimOutcomeSuperseded ClaimOutcome = "superseded"
)

// ClaimResult is returned by claim operations. Claimed is false for every no-op outcome.
type ClaimResult struct {
	Claimed         bool
	Outcome         ClaimOutcome
	CouponCode      string
	RemainingOffers int
}
