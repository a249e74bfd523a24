package evm

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

var (
	pairAddr = common.HexToAddress("0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852")
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdt     = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
)

// fakeChain answers the pair and erc20 calls from fixed state.
type fakeChain struct {
	t        *testing.T
	c        *Client
	reserve0 *big.Int
	reserve1 *big.Int
	balance  *big.Int
	calls    map[string]int
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for name, m := range f.c.pair.Methods {
		if !bytes.Equal(msg.Data[:4], m.ID) {
			continue
		}
		f.calls[name]++
		switch name {
		case "token0":
			return m.Outputs.Pack(weth)
		case "token1":
			return m.Outputs.Pack(usdt)
		case "getReserves":
			return m.Outputs.Pack(f.reserve0, f.reserve1, uint32(0))
		}
	}
	m := f.c.erc20.Methods["decimals"]
	if bytes.Equal(msg.Data[:4], m.ID) {
		f.calls["decimals"]++
		if *msg.To == weth {
			return m.Outputs.Pack(uint8(18))
		}
		return m.Outputs.Pack(uint8(6))
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func newFake(t *testing.T) (*Client, *fakeChain) {
	t.Helper()
	f := &fakeChain{t: t, calls: map[string]int{}}
	c, err := NewClient(f, time.Second)
	require.NoError(t, err)
	f.c = c
	// 10 WETH against 25,000 USDT.
	f.reserve0 = new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
	f.reserve1 = big.NewInt(25_000_000_000)
	f.balance = new(big.Int).Mul(big.NewInt(3), big.NewInt(1e17))
	return c, f
}

func TestQuoteToken0(t *testing.T) {
	c, f := newFake(t)
	q, err := c.Quote(context.Background(), domain.Token{Symbol: "WETH", EVMAddress: weth.Hex(), EVMPair: pairAddr.Hex()})
	require.NoError(t, err)
	assert.Equal(t, domain.VenueUniswap, q.Venue)
	assert.InDelta(t, 2500.0, q.Price, 1e-6)
	assert.InDelta(t, 25000.0, q.Liquidity, 1e-6)

	_, err = c.Quote(context.Background(), domain.Token{Symbol: "WETH", EVMAddress: weth.Hex(), EVMPair: pairAddr.Hex()})
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls["decimals"], "decimals are cached per token")
}

func TestQuoteToken1(t *testing.T) {
	c, _ := newFake(t)
	q, err := c.Quote(context.Background(), domain.Token{Symbol: "USDT", EVMAddress: usdt.Hex(), EVMPair: pairAddr.Hex()})
	require.NoError(t, err)
	assert.InDelta(t, 0.0004, q.Price, 1e-12)
}

func TestQuoteWithoutPair(t *testing.T) {
	c, _ := newFake(t)
	_, err := c.Quote(context.Background(), domain.Token{Symbol: "WETH", EVMAddress: weth.Hex()})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestQuoteEmptyReserves(t *testing.T) {
	c, f := newFake(t)
	f.reserve0 = big.NewInt(0)
	_, err := c.Quote(context.Background(), domain.Token{Symbol: "WETH", EVMAddress: weth.Hex(), EVMPair: pairAddr.Hex()})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestBalance(t *testing.T) {
	c, _ := newFake(t)
	b, err := c.Balance(context.Background(), weth.Hex())
	require.NoError(t, err)
	assert.InDelta(t, 0.3, b, 1e-12)

	_, err = c.Balance(context.Background(), "not-an-address")
	assert.Error(t, err)
}
