package domain

// Venue names understood by the price feed and the executors.
const (
	VenueJupiter = "jupiter"
	VenueRaydium = "raydium"
	VenueMeteora = "meteora"
	VenueUniswap = "uniswap_v2"
	VenuePumpFun = "pumpfun"
)

// Token is a monitored asset and the identifiers each venue knows it by.
type Token struct {
	Symbol     string            `json:"symbol" toml:"symbol"`
	Mint       string            `json:"mint" toml:"mint"`
	QuoteMint  string            `json:"quote_mint,omitempty" toml:"quote_mint"`
	EVMPair    string            `json:"evm_pair,omitempty" toml:"evm_pair"`
	EVMAddress string            `json:"evm_address,omitempty" toml:"evm_address"`
	Pools      map[string]string `json:"pools,omitempty" toml:"pools"`
}

// ID returns the identifier used for caching, locking and blacklisting.
func (t Token) ID() string {
	if t.Mint != "" {
		return t.Mint
	}
	if t.EVMAddress != "" {
		return t.EVMAddress
	}
	return t.Symbol
}

// Pool returns the pool/pair reference configured for venue, if any.
func (t Token) Pool(venue string) string {
	if t.Pools == nil {
		return ""
	}
	return t.Pools[venue]
}
