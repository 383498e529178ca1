package market

import "sort"

// PriceLevel is the volume traded at one exact price inside a candle.
type PriceLevel struct {
	BuyVolume  float64 `json:"buy_volume"`
	SellVolume float64 `json:"sell_volume"`
}

// Total returns buy plus sell volume.
func (l PriceLevel) Total() float64 {
	return l.BuyVolume + l.SellVolume
}

// Level is a PriceLevel together with its price, used for ordered views.
type Level struct {
	Price float64 `json:"price"`
	PriceLevel
}

// Footprint maps an exact trade price to the volume traded there.
// Prices are never merged or snapped to a tick grid.
type Footprint map[float64]PriceLevel

// Add records a trade of qty at price on the aggressor's side.
func (f Footprint) Add(price, qty float64, aggressorSell bool) {
	lvl := f[price]
	if aggressorSell {
		lvl.SellVolume += qty
	} else {
		lvl.BuyVolume += qty
	}
	f[price] = lvl
}

// Levels returns the footprint ordered by ascending price.
func (f Footprint) Levels() []Level {
	out := make([]Level, 0, len(f))
	for p, lvl := range f {
		out = append(out, Level{Price: p, PriceLevel: lvl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// LevelsDesc returns the footprint ordered by descending price, top of the ladder first.
func (f Footprint) LevelsDesc() []Level {
	out := f.Levels()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (f Footprint) Clone() Footprint {
	if f == nil {
		return nil
	}
	cp := make(Footprint, len(f))
	for p, lvl := range f {
		cp[p] = lvl
	}
	return cp
}

// FootprintFromLevels rebuilds a footprint from its ordered view.
func FootprintFromLevels(levels []Level) Footprint {
	f := make(Footprint, len(levels))
	for _, l := range levels {
		f[l.Price] = l.PriceLevel
	}
	return f
}
