// Package cost implements the cost tracker (C3): converts token usage to
// USD via the catalog's published prices, using fixed-scale decimal
// arithmetic to avoid binary-float drift across many small charges, and
// keeps an append-only, lock-free-readable ledger of cost records.
package cost

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumenforge/aigateway/catalog"
	"github.com/lumenforge/aigateway/gateway"
)

const decimalScale = 6

// Sink receives a write-through copy of every recorded cost record. Attach
// one for durability; the tracker's contract does not require it (§6
// "Persisted state: None required").
type Sink interface {
	Write(gateway.CostRecord) error
}

// Tracker records and aggregates cost. Safe for concurrent use.
type Tracker struct {
	catalog *catalog.Catalog
	sink    Sink

	mu      sync.Mutex
	records []gateway.CostRecord
	seq     atomic.Uint64
}

// New builds a Tracker. sink may be nil.
func New(cat *catalog.Catalog, sink Sink) *Tracker {
	return &Tracker{catalog: cat, sink: sink}
}

// Record computes cost_usd for (model_id, prompt_tokens, completion_tokens),
// appends an immutable cost record, and returns cost_usd for the caller to
// echo in the response (I1).
func (t *Tracker) Record(provider, modelID string, promptTokens, completionTokens int, requestID string) float64 {
	spec, known := t.catalog.Price(modelID)

	priceIn := decimal.Zero
	priceOut := decimal.Zero
	if known {
		priceIn = decimal.NewFromFloat(spec.InputUSDPer1K)
		priceOut = decimal.NewFromFloat(spec.OutputUSDPer1K)
	}

	thousand := decimal.NewFromInt(1000)
	inCost := decimal.NewFromInt(int64(promptTokens)).Mul(priceIn).Div(thousand)
	outCost := decimal.NewFromInt(int64(completionTokens)).Mul(priceOut).Div(thousand)
	total := inCost.Add(outCost).Round(decimalScale)

	rec := gateway.CostRecord{
		Timestamp:        time.Now(),
		Provider:         provider,
		ModelID:          modelID,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD:          total.InexactFloat64(),
		RequestID:        requestID,
		UnknownModel:     !known,
	}

	t.mu.Lock()
	rec.Sequence = t.seq.Add(1)
	t.records = append(t.records, rec)
	t.mu.Unlock()

	if t.sink != nil {
		_ = t.sink.Write(rec)
	}

	return rec.CostUSD
}

// snapshot returns a lock-free-readable copy of the current records (§5
// "reads are lock-free snapshots").
func (t *Tracker) snapshot() []gateway.CostRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]gateway.CostRecord, len(t.records))
	copy(out, t.records)
	return out
}

// MonthTotal sums cost_usd over records whose Timestamp falls in monthKey
// ("YYYY-MM"). Implements I2 together with budget.Breaker's own bookkeeping.
func (t *Tracker) MonthTotal(monthKey string) float64 {
	var sum decimal.Decimal
	for _, r := range t.snapshot() {
		if MonthKey(r.Timestamp) == monthKey {
			sum = sum.Add(decimal.NewFromFloat(r.CostUSD))
		}
	}
	return sum.InexactFloat64()
}

// ProviderTotals sums cost_usd per provider for the month monthKey
// ("YYYY-MM").
func (t *Tracker) ProviderTotals(monthKey string) map[string]float64 {
	sums := make(map[string]decimal.Decimal)
	for _, r := range t.snapshot() {
		if MonthKey(r.Timestamp) != monthKey {
			continue
		}
		sums[r.Provider] = sums[r.Provider].Add(decimal.NewFromFloat(r.CostUSD))
	}
	out := make(map[string]float64, len(sums))
	for k, v := range sums {
		out[k] = v.InexactFloat64()
	}
	return out
}

// ModelTotals sums cost_usd per model_id for the month monthKey ("YYYY-MM").
func (t *Tracker) ModelTotals(monthKey string) map[string]float64 {
	sums := make(map[string]decimal.Decimal)
	for _, r := range t.snapshot() {
		if MonthKey(r.Timestamp) != monthKey {
			continue
		}
		sums[r.ModelID] = sums[r.ModelID].Add(decimal.NewFromFloat(r.CostUSD))
	}
	out := make(map[string]float64, len(sums))
	for k, v := range sums {
		out[k] = v.InexactFloat64()
	}
	return out
}

// Page is one page of the cost-record list.
type Page struct {
	Records []gateway.CostRecord
	// NextCursor is empty when there are no further records.
	NextCursor string
}

// List returns records in arrival order (ties broken by Sequence), optionally
// filtered by provider/model/month, starting after cursor. The cursor is an
// opaque, monotonically increasing sequence number so concurrent appends
// never shift an in-progress page (§4.3 "full record list with pagination").
func (t *Tracker) List(provider, modelID, monthKey, cursor string, limit int) Page {
	if limit <= 0 {
		limit = 100
	}
	after := decodeCursor(cursor)

	all := t.snapshot()
	sort.Slice(all, func(i, j int) bool { return all[i].Sequence < all[j].Sequence })

	var page []gateway.CostRecord
	var next string
	for _, r := range all {
		if r.Sequence <= after {
			continue
		}
		if provider != "" && r.Provider != provider {
			continue
		}
		if modelID != "" && r.ModelID != modelID {
			continue
		}
		if monthKey != "" && MonthKey(r.Timestamp) != monthKey {
			continue
		}
		if len(page) == limit {
			next = encodeCursor(page[len(page)-1].Sequence)
			break
		}
		page = append(page, r)
	}
	return Page{Records: page, NextCursor: next}
}

// MonthKey derives the "YYYY-MM" key for a timestamp, in the invariant's
// calendar-month sense (I2).
func MonthKey(t time.Time) string { return t.Format("2006-01") }
