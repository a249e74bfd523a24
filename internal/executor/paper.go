package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

// PaperTrader fills every leg locally at the requested price less slippage and
// keeps a cash balance, so it doubles as the balance source in paper mode.
// Amounts are token quantities; cash is in the quote asset.
type PaperTrader struct {
	mu          sync.Mutex
	cash        float64
	holdings    map[string]float64
	slippageBps float64
	fee         float64
}

// NewPaperTrader starts with balance in cash and charges fee per leg.
func NewPaperTrader(balance, slippageBps, fee float64) *PaperTrader {
	return &PaperTrader{
		cash:        balance,
		holdings:    make(map[string]float64),
		slippageBps: slippageBps,
		fee:         fee,
	}
}

func (p *PaperTrader) fill(side domain.Side, price float64) float64 {
	slip := price * p.slippageBps / 10_000
	if side == domain.SideBuy {
		return price + slip
	}
	return price - slip
}

// Simulate checks a buy against available cash. Sells are only checked for
// sane inputs since they are simulated before the matching buy lands.
func (p *PaperTrader) Simulate(ctx context.Context, venue string, side domain.Side, token domain.Token, amount, price float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if amount <= 0 || price <= 0 {
		return false, nil
	}
	if side == domain.SideSell {
		return true, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return amount*p.fill(side, price)+p.fee <= p.cash, nil
}

// Execute fills the leg and updates cash and holdings.
func (p *PaperTrader) Execute(ctx context.Context, venue string, side domain.Side, token domain.Token, amount, price float64) (domain.TradeOutcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.TradeOutcome{}, err
	}
	if amount <= 0 || price <= 0 {
		return domain.TradeOutcome{}, fmt.Errorf("paper: invalid %s of %g at %g", side, amount, price)
	}
	px := p.fill(side, price)
	id := token.ID()

	p.mu.Lock()
	defer p.mu.Unlock()
	switch side {
	case domain.SideBuy:
		cost := amount*px + p.fee
		if cost > p.cash {
			return domain.TradeOutcome{}, fmt.Errorf("paper: buy needs %g, have %g", cost, p.cash)
		}
		p.cash -= cost
		p.holdings[id] += amount
	case domain.SideSell:
		held := p.holdings[id]
		if held < amount*(1-1e-9) {
			return domain.TradeOutcome{}, fmt.Errorf("paper: sell %g %s, hold %g", amount, token.Symbol, held)
		}
		amount = min(amount, held)
		p.cash += amount*px - p.fee
		if p.holdings[id] = held - amount; p.holdings[id] <= 0 {
			delete(p.holdings, id)
		}
	default:
		return domain.TradeOutcome{}, fmt.Errorf("paper: unknown side %q", side)
	}
	return domain.TradeOutcome{
		TxID:   "paper-" + uuid.NewString(),
		Price:  px,
		Amount: amount,
		Fee:    p.fee,
	}, nil
}

// Balance returns the paper cash balance for any account.
func (p *PaperTrader) Balance(ctx context.Context, account string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash, nil
}

// Holding returns the quantity held of a token.
func (p *PaperTrader) Holding(token string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[token]
}

var (
	_ domain.TradeExecutor = (*PaperTrader)(nil)
	_ domain.BalanceSource = (*PaperTrader)(nil)
)
