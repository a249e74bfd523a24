// Package arbitrage turns market data into ranked trade candidates: cross-venue
// spreads for watched tokens and risk-scored entries for freshly launched ones.
package arbitrage

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

// Candidate is an opportunity that passed scan-time risk checks, with the size
// it was sized to and the key it is ranked by.
type Candidate struct {
	Opportunity domain.Evaluatable `json:"opportunity"`
	Size        float64            `json:"size"`
	// Score orders candidates within a tick, highest first. Arbitrage uses
	// the estimated net profit, snipes the expected profit percentage.
	Score float64 `json:"score"`
}

// MarshalJSON adds the opportunity kind so API clients can tell the variants
// apart.
func (c Candidate) MarshalJSON() ([]byte, error) {
	type plain Candidate
	var kind domain.OpportunityKind
	if c.Opportunity != nil {
		kind = c.Opportunity.Kind()
	}
	return json.Marshal(struct {
		Kind domain.OpportunityKind `json:"kind"`
		plain
	}{kind, plain(c)})
}

// Scanner produces candidates for one scheduler tick of a strategy.
type Scanner interface {
	Name() string
	// Scan returns candidates in descending Score order. available is the
	// wallet balance the gate may size against.
	Scan(ctx context.Context, cfg domain.SessionConfig, available float64) ([]Candidate, error)
}

// Gate is the part of the risk gate scanners consult.
type Gate interface {
	Blacklisted(token string) bool
	Validate(c domain.Evaluatable, minProfitPct float64, now time.Time) error
	ScanSize(available, required float64) (float64, error)
}

// TopK returns at most k candidates, keeping their order.
func TopK(cands []Candidate, k int) []Candidate {
	if k <= 0 || len(cands) <= k {
		return cands
	}
	return cands[:k]
}

func sortByScore(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
}
