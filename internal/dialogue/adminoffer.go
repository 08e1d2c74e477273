package dialogue

// DefaultAdminOfferThreshold is the number of consecutive unreadable replies
// to a fixed-choice prompt after which a human is offered.
const DefaultAdminOfferThreshold = 1

// AdminOfferGuard intercepts unreadable replies to fixed-choice prompts and
// offers a human instead of letting the script loop or misroute.
type AdminOfferGuard struct {
	Threshold     int
	MinConfidence float64
}

// ShouldOffer reports whether the reply should be answered with the human
// offer instead of a stage transition. It never fires for free-text prompts.
// unparsed is the count of unreadable replies already seen at this stage.
func (g AdminOfferGuard) ShouldOffer(stage Stage, lastKind PromptKind, text string, cls Classification, unparsed int) bool {
	if lastKind != FixedChoice || stage.Terminal() {
		return false
	}
	if _, _, ok := Match(stage, text, cls, g.MinConfidence); ok {
		return false
	}
	threshold := g.Threshold
	if threshold <= 0 {
		threshold = DefaultAdminOfferThreshold
	}
	return unparsed+1 >= threshold
}

// OfferAnswer is how a reply to the human offer was read.
type OfferAnswer int

const (
	OfferUnclear OfferAnswer = iota
	OfferAccepted
	OfferDeclined
)

// Answer reads a reply to the human offer as yes or no only.
func (g AdminOfferGuard) Answer(text string) OfferAnswer {
	switch intent, _ := YesNo(text); intent {
	case IntentYes:
		return OfferAccepted
	case IntentNo:
		return OfferDeclined
	}
	return OfferUnclear
}
