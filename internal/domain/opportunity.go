package domain

import "time"

// OpportunityKind tags the variants accepted by the risk gate.
type OpportunityKind string

const (
	KindArbitrage OpportunityKind = "arbitrage"
	KindSnipe     OpportunityKind = "snipe"
)

// Evaluatable is the capability the risk gate needs from any candidate.
type Evaluatable interface {
	Kind() OpportunityKind
	TokenID() string
	ProfitPercent() float64
	CreatedAt() time.Time
	// RequiredSize is the largest size the candidate itself asks for. Zero
	// means the candidate places no bound of its own.
	RequiredSize() float64
}

// ArbitrageOpportunity is a cross-venue spread for one token. BuyPrice is
// always the minimum observed price and SellPrice the maximum.
type ArbitrageOpportunity struct {
	ID              string    `json:"id"`
	Token           Token     `json:"token"`
	BuyVenue        string    `json:"buy_venue"`
	SellVenue       string    `json:"sell_venue"`
	BuyPrice        float64   `json:"buy_price"`
	SellPrice       float64   `json:"sell_price"`
	ProfitPct       float64   `json:"profit_pct"`
	AvailableVolume float64   `json:"available_volume"`
	EstimatedNet    float64   `json:"estimated_net"`
	DetectedAt      time.Time `json:"detected_at"`
}

// ProfitAmount is (sell - buy) * available volume, unclamped.
func (o ArbitrageOpportunity) ProfitAmount() float64 {
	return (o.SellPrice - o.BuyPrice) * o.AvailableVolume
}

func (o ArbitrageOpportunity) Kind() OpportunityKind  { return KindArbitrage }
func (o ArbitrageOpportunity) TokenID() string        { return o.Token.ID() }
func (o ArbitrageOpportunity) ProfitPercent() float64 { return o.ProfitPct }
func (o ArbitrageOpportunity) CreatedAt() time.Time   { return o.DetectedAt }
func (o ArbitrageOpportunity) RequiredSize() float64  { return o.AvailableVolume }

// NewAssetLaunch is a freshly created token seen on a launch feed.
type NewAssetLaunch struct {
	Mint         string    `json:"mint"`
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	InitialPrice float64   `json:"initial_price"`
	PoolRef      string    `json:"pool_ref"`
	MarketCapSol float64   `json:"market_cap_sol"`
	MarketCapUSD float64   `json:"market_cap_usd"`
	SeenAt       time.Time `json:"seen_at"`

	// Filled in once by the launch scanner.
	RiskScore     int     `json:"risk_score"`
	SuggestedSize float64 `json:"suggested_size"`
	ExpectedPct   float64 `json:"expected_pct"`
}

func (l NewAssetLaunch) Kind() OpportunityKind  { return KindSnipe }
func (l NewAssetLaunch) TokenID() string        { return l.Mint }
func (l NewAssetLaunch) ProfitPercent() float64 { return l.ExpectedPct }
func (l NewAssetLaunch) CreatedAt() time.Time   { return l.SeenAt }
func (l NewAssetLaunch) RequiredSize() float64  { return l.SuggestedSize }

// Token returns a Token usable with the price feed.
func (l NewAssetLaunch) Token() Token {
	return Token{Symbol: l.Symbol, Mint: l.Mint, Pools: map[string]string{VenuePumpFun: l.PoolRef}}
}
