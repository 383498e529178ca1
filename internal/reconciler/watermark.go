package reconciler

import "footprint/internal/market"

// Watermark is the newest trade covered by a historical fetch. It is inclusive.
type Watermark struct {
	TradeID     int64
	TimestampMs int64
	set         bool
}

// WatermarkOf returns the watermark of a history result. The id bound is only
// kept when every trade carries an id.
func WatermarkOf(history []market.Trade) Watermark {
	var w Watermark
	allIDs := len(history) > 0
	for _, t := range history {
		w.set = true
		if t.TimestampMs > w.TimestampMs {
			w.TimestampMs = t.TimestampMs
		}
		if !t.HasID() {
			allIDs = false
		} else if t.TradeID > w.TradeID {
			w.TradeID = t.TradeID
		}
	}
	if !allIDs {
		w.TradeID = 0
	}
	return w
}

func (w Watermark) IsSet() bool { return w.set }

// Covers reports whether t was already delivered by history.
func (w Watermark) Covers(t market.Trade) bool {
	if !w.set {
		return false
	}
	if w.TradeID > 0 && t.HasID() {
		return t.TradeID <= w.TradeID
	}
	return t.TimestampMs <= w.TimestampMs
}

type seenEntry struct {
	id market.Identity
	ts int64
}

// dedupWindow remembers trade identities for a span of trade time behind the
// newest trade seen. Older identities are evicted in insertion order.
type dedupWindow struct {
	span   int64
	newest int64
	ids    map[market.Identity]struct{}
	order  []seenEntry
	head   int // order[:head] is evicted
}

func newDedupWindow(spanMs int64) *dedupWindow {
	return &dedupWindow{span: spanMs, ids: make(map[market.Identity]struct{})}
}

// Add records t and reports false when it was already present.
func (d *dedupWindow) Add(t market.Trade) bool {
	id := t.Identity()
	if _, ok := d.ids[id]; ok {
		return false
	}
	d.ids[id] = struct{}{}
	d.order = append(d.order, seenEntry{id: id, ts: t.TimestampMs})
	if t.TimestampMs > d.newest {
		d.newest = t.TimestampMs
	}
	d.evict()
	return true
}

func (d *dedupWindow) evict() {
	cutoff := d.newest - d.span
	for d.head < len(d.order) && d.order[d.head].ts < cutoff {
		delete(d.ids, d.order[d.head].id)
		d.order[d.head] = seenEntry{}
		d.head++
	}
	// compact once the evicted prefix outweighs the live entries
	if d.head > 0 && d.head >= len(d.order)-d.head {
		n := copy(d.order, d.order[d.head:])
		d.order = d.order[:n]
		d.head = 0
	}
}

func (d *dedupWindow) Len() int { return len(d.ids) }
