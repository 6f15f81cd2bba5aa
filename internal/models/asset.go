package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Token is a currency symbol independent of the chain it travels on.
type Token string

const (
	TokenUSDT Token = "USDT"
	TokenUSDC Token = "USDC"
	TokenBNB  Token = "BNB"
	TokenETH  Token = "ETH"
	TokenTON  Token = "TON"
	TokenSOL  Token = "SOL"
)

// Stablecoin reports whether the token is valued 1:1 against USD.
func (t Token) Stablecoin() bool {
	return t == TokenUSDT || t == TokenUSDC
}

// Network is a blockchain network.
type Network string

const (
	NetworkBEP20 Network = "BEP20"
	NetworkTRC20 Network = "TRC20"
	NetworkERC20 Network = "ERC20"
	NetworkTON   Network = "TON"
	NetworkSOL   Network = "SOL"
)

// Asset is a supported (token, network) pair, identified by its gateway ticker.
type Asset string

const (
	AssetUSDTBEP Asset = "USDTBEP"
	AssetUSDTTRC Asset = "USDTTRC"
	AssetUSDTERC Asset = "USDTERC"
	AssetUSDTTON Asset = "USDTTON"
	AssetUSDCERC Asset = "USDCERC"
	AssetUSDCBEP Asset = "USDCBEP"
	AssetBNB     Asset = "BNB"
	AssetETH     Asset = "ETH"
	AssetTON     Asset = "TON"
	AssetSOL     Asset = "SOL"
)

type assetInfo struct {
	token   Token
	network Network
	memo    bool
}

var assetInfos = map[Asset]assetInfo{
	AssetUSDTBEP: {TokenUSDT, NetworkBEP20, false},
	AssetUSDTTRC: {TokenUSDT, NetworkTRC20, false},
	AssetUSDTERC: {TokenUSDT, NetworkERC20, false},
	AssetUSDTTON: {TokenUSDT, NetworkTON, true},
	AssetUSDCERC: {TokenUSDC, NetworkERC20, false},
	AssetUSDCBEP: {TokenUSDC, NetworkBEP20, false},
	AssetBNB:     {TokenBNB, NetworkBEP20, false},
	AssetETH:     {TokenETH, NetworkERC20, false},
	AssetTON:     {TokenTON, NetworkTON, true},
	AssetSOL:     {TokenSOL, NetworkSOL, false},
}

// Generic tickers the gateway may report without a network suffix.
var genericDepositAssets = map[string]Asset{
	"USDT": AssetUSDTTRC,
	"USDC": AssetUSDCERC,
}

// ParseAsset validates a gateway ticker. Generic USDT/USDC tickers resolve to
// the network the gateway uses for them on incoming transfers.
func ParseAsset(s string) (Asset, error) {
	ticker := strings.ToUpper(strings.TrimSpace(s))
	if a, ok := genericDepositAssets[ticker]; ok {
		return a, nil
	}
	a := Asset(ticker)
	if _, ok := assetInfos[a]; !ok {
		return "", fmt.Errorf("unsupported asset %q", s)
	}
	return a, nil
}

// AssetFor returns the asset for a token on a network.
func AssetFor(token Token, network Network) (Asset, error) {
	for a, info := range assetInfos {
		if info.token == token && info.network == network {
			return a, nil
		}
	}
	return "", fmt.Errorf("unsupported pair %s-%s", token, network)
}

// AllAssets returns every supported asset in ticker order.
func AllAssets() []Asset {
	assets := make([]Asset, 0, len(assetInfos))
	for a := range assetInfos {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	return assets
}

func (a Asset) Valid() bool {
	_, ok := assetInfos[a]
	return ok
}

func (a Asset) Token() Token {
	return assetInfos[a].token
}

func (a Asset) Network() Network {
	return assetInfos[a].network
}

// RequiresMemo reports whether deposits on this network are told apart by memo.
func (a Asset) RequiresMemo() bool {
	return assetInfos[a].memo
}

func (a Asset) String() string {
	return string(a)
}

// NetworkPriority orders, per token, the networks to draw from when debiting.
// The first entry is also the default network for crediting a token that
// arrives without a network.
type NetworkPriority map[Token][]Asset

// DefaultNetworkPriority is used when no assets file overrides it.
func DefaultNetworkPriority() NetworkPriority {
	return NetworkPriority{
		TokenUSDT: {AssetUSDTBEP, AssetUSDTTRC, AssetUSDTERC, AssetUSDTTON},
		TokenUSDC: {AssetUSDCERC, AssetUSDCBEP},
		TokenBNB:  {AssetBNB},
		TokenETH:  {AssetETH},
		TokenTON:  {AssetTON},
		TokenSOL:  {AssetSOL},
	}
}

// Assets returns the ordered assets for a token.
func (p NetworkPriority) Assets(token Token) []Asset {
	return p[token]
}

// Primary returns the highest priority asset for a token.
func (p NetworkPriority) Primary(token Token) (Asset, error) {
	assets := p[token]
	if len(assets) == 0 {
		return "", fmt.Errorf("no networks configured for %s", token)
	}
	return assets[0], nil
}

// Debit is one network's share of a multi-network debit.
type Debit struct {
	Asset  Asset
	Amount decimal.Decimal
}

// PlanDebit splits amount across the token's networks in priority order,
// draining each balance before moving to the next. It returns
// ErrInsufficientFunds when the aggregate cannot cover the amount.
func (p NetworkPriority) PlanDebit(token Token, balances BalanceSheet, amount decimal.Decimal) ([]Debit, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("debit amount must be positive, got %s", amount)
	}
	if balances.Aggregate(token).LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	remaining := amount
	var debits []Debit
	for _, asset := range p.Assets(token) {
		if !remaining.IsPositive() {
			break
		}
		available := balances.Get(asset)
		if !available.IsPositive() {
			continue
		}
		take := decimal.Min(available, remaining)
		debits = append(debits, Debit{Asset: asset, Amount: take})
		remaining = remaining.Sub(take)
	}

	// Balances on networks missing from the priority list still count toward
	// the aggregate, so drain them last.
	if remaining.IsPositive() {
		for _, asset := range AllAssets() {
			if asset.Token() != token || p.contains(token, asset) {
				continue
			}
			available := balances.Get(asset)
			if !available.IsPositive() {
				continue
			}
			take := decimal.Min(available, remaining)
			debits = append(debits, Debit{Asset: asset, Amount: take})
			remaining = remaining.Sub(take)
			if !remaining.IsPositive() {
				break
			}
		}
	}

	if remaining.IsPositive() {
		return nil, ErrInsufficientFunds
	}
	return debits, nil
}

func (p NetworkPriority) contains(token Token, asset Asset) bool {
	for _, a := range p[token] {
		if a == asset {
			return true
		}
	}
	return false
}
