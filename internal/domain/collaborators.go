package domain

import "context"

// PriceSource quotes tokens on a single venue. Implementations must honour ctx
// deadlines and wrap every failure in ErrUnavailable.
type PriceSource interface {
	Name() string
	Quote(ctx context.Context, token Token) (PriceQuote, error)
}

// TradeExecutor simulates and executes single swap legs. Swap construction and
// signing live behind it.
type TradeExecutor interface {
	Simulate(ctx context.Context, venue string, side Side, token Token, amount, price float64) (bool, error)
	Execute(ctx context.Context, venue string, side Side, token Token, amount, price float64) (TradeOutcome, error)
}

// BalanceSource reports the native balance of an account.
type BalanceSource interface {
	Balance(ctx context.Context, account string) (float64, error)
}

// LaunchSource streams new asset launches until ctx is cancelled.
type LaunchSource interface {
	Stream(ctx context.Context, out chan<- NewAssetLaunch) error
}
