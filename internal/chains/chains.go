package chains

// Stablecoin describes the settlement token accepted on a chain.
type Stablecoin struct {
	Symbol   string
	Contract string
	Decimals uint8
}

// Chain describes a supported payment network.
type Chain struct {
	ChainID     uint64
	CAIP2       string // "eip155:<id>" or "solana:<cluster>"
	DisplayName string
	RPCURL      string
	Stablecoin  Stablecoin
	BlockTimeMS int
}

// Rail identifies which verification path handles a chain.
type Rail string

const (
	RailFast    Rail = "fast"    // direct on-chain receipt verification
	RailBase    Rail = "base"    // external facilitator, EVM permit
	RailSolana  Rail = "solana"  // external facilitator, Solana
	RailUnknown Rail = "unknown"
)

// CAIP-2 identifiers for the three supported networks.
const (
	CAIP2MegaETH = "eip155:4326"
	CAIP2Base    = "eip155:8453"
	CAIP2Solana  = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
)

// registry holds the compile-time chain table. The MegaETH stablecoin
// contract is a testnet deployment and may be overridden via config.
var registry = []Chain{
	{
		ChainID:     4326,
		CAIP2:       CAIP2MegaETH,
		DisplayName: "MegaETH",
		RPCURL:      "https://carrot.megaeth.com/rpc",
		Stablecoin: Stablecoin{
			Symbol:   "tUSD",
			Contract: "0x6aF2b4dA0725F4E25BbE4b6ed0cc9f7Df5Fd7911",
			Decimals: 18,
		},
		BlockTimeMS: 10,
	},
	{
		ChainID:     8453,
		CAIP2:       CAIP2Base,
		DisplayName: "Base",
		RPCURL:      "https://mainnet.base.org",
		Stablecoin: Stablecoin{
			Symbol:   "USDC",
			Contract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Decimals: 6,
		},
		BlockTimeMS: 2000,
	},
	{
		CAIP2:       CAIP2Solana,
		DisplayName: "Solana",
		RPCURL:      "https://api.mainnet-beta.solana.com",
		Stablecoin: Stablecoin{
			Symbol:   "USDC",
			Contract: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Decimals: 6,
		},
		BlockTimeMS: 400,
	},
}

// Lookup returns the chain for a CAIP-2 identifier.
func Lookup(caip2 string) (Chain, bool) {
	for _, c := range registry {
		if c.CAIP2 == caip2 {
			return c, true
		}
	}
	return Chain{}, false
}

// All returns the supported chains in stable advertisement order:
// fast rail first, then Base, then Solana.
func All() []Chain {
	out := make([]Chain, len(registry))
	copy(out, registry)
	return out
}

// Fast returns the fast-rail chain (MegaETH).
func Fast() Chain {
	c, _ := Lookup(CAIP2MegaETH)
	return c
}

// RailOf classifies a CAIP-2 identifier into a verification rail.
func RailOf(caip2 string) Rail {
	switch caip2 {
	case CAIP2MegaETH:
		return RailFast
	case CAIP2Base:
		return RailBase
	case CAIP2Solana:
		return RailSolana
	default:
		return RailUnknown
	}
}

// WithFastStablecoin returns a copy of the fast-rail chain with the
// stablecoin contract replaced. Used when config overrides the compiled
// testnet default.
func WithFastStablecoin(contract string) Chain {
	c := Fast()
	if contract != "" {
		c.Stablecoin.Contract = contract
	}
	return c
}
