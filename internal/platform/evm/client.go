// Package evm prices tokens from UniswapV2-style pairs and reads native
// balances over an Ethereum JSON-RPC endpoint.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

const pairABI = `[
 {"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const erc20ABI = `[
 {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// Backend is the subset of ethclient.Client used here.
type Backend interface {
	ethereum.ContractCaller
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client implements domain.PriceSource over UniswapV2 pairs and
// domain.BalanceSource for the native coin.
type Client struct {
	backend  Backend
	pair     abi.ABI
	erc20    abi.ABI
	timeout  time.Duration
	now      func() time.Time
	decMu    sync.RWMutex
	decimals map[common.Address]int
}

// Dial connects to rpcURL and returns a Client.
func Dial(ctx context.Context, rpcURL string, timeout time.Duration) (*Client, func(), error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: dial: %w", err)
	}
	c, err := NewClient(ec, timeout)
	if err != nil {
		ec.Close()
		return nil, nil, err
	}
	return c, ec.Close, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, timeout time.Duration) (*Client, error) {
	pABI, err := abi.JSON(strings.NewReader(pairABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse pair abi: %w", err)
	}
	eABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse erc20 abi: %w", err)
	}
	return &Client{
		backend:  backend,
		pair:     pABI,
		erc20:    eABI,
		timeout:  timeout,
		now:      time.Now,
		decimals: make(map[common.Address]int, 8),
	}, nil
}

func (c *Client) Name() string { return domain.VenueUniswap }

// Quote prices token.EVMAddress in units of the other pair asset.
func (c *Client) Quote(ctx context.Context, token domain.Token) (domain.PriceQuote, error) {
	pairAddr := token.EVMPair
	if p := token.Pool(domain.VenueUniswap); p != "" {
		pairAddr = p
	}
	if !common.IsHexAddress(pairAddr) || !common.IsHexAddress(token.EVMAddress) {
		return domain.PriceQuote{}, fmt.Errorf("evm: %s has no pair configured: %w", token.Symbol, domain.ErrUnavailable)
	}
	pair := common.HexToAddress(pairAddr)
	self := common.HexToAddress(token.EVMAddress)

	price, liquidity, err := c.pairPrice(ctx, pair, self)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("evm: quote %s: %w: %w", token.Symbol, domain.ErrUnavailable, err)
	}
	return domain.PriceQuote{
		Venue:      domain.VenueUniswap,
		Token:      token.ID(),
		Price:      price,
		Liquidity:  liquidity,
		ObservedAt: c.now(),
	}, nil
}

func (c *Client) pairPrice(ctx context.Context, pair, self common.Address) (float64, float64, error) {
	token0, err := c.callAddress(ctx, pair, "token0")
	if err != nil {
		return 0, 0, err
	}
	token1, err := c.callAddress(ctx, pair, "token1")
	if err != nil {
		return 0, 0, err
	}
	out, err := c.call(ctx, c.pair, pair, "getReserves")
	if err != nil {
		return 0, 0, err
	}
	if len(out) < 2 {
		return 0, 0, errors.New("decode getReserves")
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 || r0.Sign() == 0 || r1.Sign() == 0 {
		return 0, 0, errors.New("empty reserves")
	}
	d0, err := c.fetchDecimals(ctx, token0)
	if err != nil {
		return 0, 0, err
	}
	d1, err := c.fetchDecimals(ctx, token1)
	if err != nil {
		return 0, 0, err
	}
	f0, f1 := toFloat(r0, d0), toFloat(r1, d1)
	switch self {
	case token0:
		return f1 / f0, f1, nil
	case token1:
		return f0 / f1, f0, nil
	default:
		return 0, 0, fmt.Errorf("token %s not in pair %s", self.Hex(), pair.Hex())
	}
}

// Balance returns the native balance of account in whole coins.
func (c *Client) Balance(ctx context.Context, account string) (float64, error) {
	if !common.IsHexAddress(account) {
		return 0, fmt.Errorf("evm: invalid address %q", account)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	wei, err := c.backend.BalanceAt(ctx, common.HexToAddress(account), nil)
	if err != nil {
		return 0, fmt.Errorf("evm: balance: %w: %w", domain.ErrUnavailable, err)
	}
	return toFloat(wei, 18), nil
}

func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string) ([]any, error) {
	data, err := contract.Pack(method)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return contract.Methods[method].Outputs.Unpack(raw)
}

func (c *Client) callAddress(ctx context.Context, to common.Address, method string) (common.Address, error) {
	out, err := c.call(ctx, c.pair, to, method)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("decode %s", method)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("decode %s", method)
	}
	return addr, nil
}

func (c *Client) fetchDecimals(ctx context.Context, token common.Address) (int, error) {
	c.decMu.RLock()
	d, ok := c.decimals[token]
	c.decMu.RUnlock()
	if ok {
		return d, nil
	}
	out, err := c.call(ctx, c.erc20, token, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, errors.New("decode decimals")
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, errors.New("decode decimals")
	}
	c.decMu.Lock()
	c.decimals[token] = int(v)
	c.decMu.Unlock()
	return int(v), nil
}

func toFloat(x *big.Int, decimals int) float64 {
	f := new(big.Float).SetInt(x)
	f.Quo(f, big.NewFloat(math.Pow10(decimals)))
	v, _ := f.Float64()
	return v
}

var (
	_ domain.PriceSource   = (*Client)(nil)
	_ domain.BalanceSource = (*Client)(nil)
)
