package trade

import (
	"errors"

	"github.com/emberlight/realtime-backend/internal/storage"
)

// ErrMalformedOffer means the payload shape was wrong, as opposed to an
// offer that parsed but failed validation.
var ErrMalformedOffer = errors.New("trade: malformed offer payload")

// ParseOffer decodes the tradeUpdate argument list at the dispatcher
// boundary: args[0] is a map {"gold": n, "items": [{"class","id","qty"}]}.
// Unknown or malformed shapes are rejected before they reach the engine.
func ParseOffer(args []any) (Offer, error) {
	if len(args) == 0 {
		return Offer{}, ErrMalformedOffer
	}
	m, ok := args[0].(map[string]any)
	if !ok {
		return Offer{}, ErrMalformedOffer
	}

	var offer Offer
	if raw, ok := m["gold"]; ok {
		gold, ok := storage.CoerceInt64(raw)
		if !ok {
			return Offer{}, ErrMalformedOffer
		}
		offer.Gold = gold
	}

	rawItems, ok := m["items"]
	if !ok {
		return offer, nil
	}
	list, ok := rawItems.([]any)
	if !ok {
		return Offer{}, ErrMalformedOffer
	}
	for _, rawItem := range list {
		im, ok := rawItem.(map[string]any)
		if !ok {
			return Offer{}, ErrMalformedOffer
		}
		class, ok := im["class"].(string)
		if !ok {
			return Offer{}, ErrMalformedOffer
		}
		id, ok := storage.CoerceInt64(im["id"])
		if !ok {
			return Offer{}, ErrMalformedOffer
		}
		qty, ok := storage.CoerceInt64(im["qty"])
		if !ok {
			return Offer{}, ErrMalformedOffer
		}
		offer.Items = append(offer.Items, OfferItem{Class: Class(class), ID: int(id), Qty: qty})
	}
	return offer, nil
}
