package events

import (
	"errors"
	"fmt"

	"github.com/devblac/stackfeed/internal/clarity"
)

// ErrUnknownEvent reports a discriminator this build does not know.
// Callers log and skip; new event types may ship on chain before the
// code that understands them.
var ErrUnknownEvent = errors.New("unknown event discriminator")

// Administrative discriminators that share the ConfigChanged shape.
var adminEvents = map[string]struct{}{
	"fees-updated":   {},
	"oracle-updated": {},
	"pause-toggled":  {},
}

// FromTuple maps a decoded contract log onto the domain vocabulary by
// its `event` discriminator field. Missing fields default to zero
// values; handlers treat them defensively rather than failing here.
func FromTuple(t clarity.Tuple) (Payload, error) {
	disc, ok := t.String("event")
	if !ok {
		return nil, fmt.Errorf("%w: missing event field", ErrUnknownEvent)
	}

	switch disc {
	case "market-created":
		id, _ := t.Uint("market-id")
		creator, _ := t.Principal("creator")
		question, _ := t.String("question")
		fee, _ := t.Uint("fee-rate")
		return MarketCreated{MarketID: id, Creator: creator, Question: question, FeeRate: fee}, nil

	case "market-resolved":
		id, _ := t.Uint("market-id")
		outcome, _ := t.Bool("outcome")
		return MarketResolved{MarketID: id, Outcome: outcome}, nil

	case "bet-placed":
		id, _ := t.Uint("market-id")
		bettor, _ := t.Principal("bettor")
		outcome, _ := t.Bool("outcome")
		amount, _ := t.Uint("amount")
		return BetPlaced{MarketID: id, Bettor: bettor, Outcome: outcome, Amount: amount}, nil

	case "bet-claimed":
		id, _ := t.Uint("market-id")
		claimant, _ := t.Principal("claimant")
		payout, _ := t.Uint("payout")
		return BetClaimed{MarketID: id, Claimant: claimant, Payout: payout}, nil
	}

	if _, ok := adminEvents[disc]; ok {
		return ConfigChanged{Setting: disc, Scope: disc, Fields: t}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, disc)
}
