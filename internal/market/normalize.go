package market

import (
	"math/big"
)

// Normalize converts the three marketplace event streams into one TokenEvent
// sequence in listed, bought, canceled order. Bought and Canceled prices are
// forced to zero since they carry no listing price in the reconciled view.
func Normalize(listed, bought, canceled []RawEvent) []TokenEvent {
	out := make([]TokenEvent, 0, len(listed)+len(bought)+len(canceled))
	for _, ev := range listed {
		out = append(out, toTokenEvent(ev, KindListed, clonePrice(ev.Price)))
	}
	for _, ev := range bought {
		out = append(out, toTokenEvent(ev, KindBought, big.NewInt(0)))
	}
	for _, ev := range canceled {
		out = append(out, toTokenEvent(ev, KindCanceled, big.NewInt(0)))
	}
	return out
}

func toTokenEvent(ev RawEvent, kind EventKind, price *big.Int) TokenEvent {
	return TokenEvent{
		CollectionAddress: ev.CollectionAddress,
		TokenID:           canonicalTokenID(ev.TokenID),
		TokenURI:          ev.TokenURI,
		Price:             price,
		Kind:              kind,
		Timestamp:         ev.Timestamp,
		BlockNumber:       ev.BlockNumber,
		LogIndex:          ev.LogIndex,
	}
}

func clonePrice(p *big.Int) *big.Int {
	if p == nil {
		return nil
	}
	return new(big.Int).Set(p)
}
