package clob

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) code() int64 {
	if s == SideSell {
		return 1
	}
	return 0
}

// OrderType is the time-in-force sent with an order.
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK"
	OrderTypeGTC OrderType = "GTC"
)

const (
	exchangeDomainName    = "Polymarket CTF Exchange"
	exchangeDomainVersion = "1"
	zeroAddress           = "0x0000000000000000000000000000000000000000"
	tokenDecimals         = 1e6
)

type contracts struct {
	exchange        string
	negRiskExchange string
}

var chainContracts = map[int64]contracts{
	137: {
		exchange:        "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
		negRiskExchange: "0xC5d563A36AE78145C45a50134d48A1215220f80a",
	},
	80002: {
		exchange:        "0xdFE02Eb6733538f8Ea35D585af8DE5958AD99E40",
		negRiskExchange: "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296",
	},
}

func exchangeAddress(chainID int64, negRisk bool) (string, error) {
	c, ok := chainContracts[chainID]
	if !ok {
		return "", fmt.Errorf("unsupported chain id %d", chainID)
	}
	if negRisk {
		return c.negRiskExchange, nil
	}
	return c.exchange, nil
}

// roundConfig holds decimal places for price, size and amount per tick size.
type roundConfig struct {
	price  int
	size   int
	amount int
}

func roundingFor(tick string) roundConfig {
	switch tick {
	case "0.1":
		return roundConfig{price: 1, size: 2, amount: 3}
	case "0.001":
		return roundConfig{price: 3, size: 2, amount: 5}
	case "0.0001":
		return roundConfig{price: 4, size: 2, amount: 6}
	default:
		return roundConfig{price: 2, size: 2, amount: 4}
	}
}

func roundNormal(x float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(x*p) / p
}

func roundDown(x float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Floor(x*p) / p
}

func roundUp(x float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Ceil(x*p) / p
}

func decimalPlaces(x float64) int {
	s := strconv.FormatFloat(x, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// normalizeAmount trims float noise, then truncates to digits.
func normalizeAmount(x float64, digits int) float64 {
	if decimalPlaces(x) <= digits {
		return x
	}
	x = roundUp(x, digits+4)
	if decimalPlaces(x) > digits {
		x = roundDown(x, digits)
	}
	return x
}

func toTokenDecimals(x float64) *big.Int {
	return big.NewInt(int64(math.Round(x * tokenDecimals)))
}

func priceValid(price, tick float64) bool {
	return price >= tick && price <= 1-tick
}

// marketAmounts returns maker and taker amounts for a market order.
// For BUY amount is USDC to spend; for SELL it is shares to sell.
func marketAmounts(side Side, amount, price float64, rc roundConfig) (maker, taker float64) {
	price = roundNormal(price, rc.price)
	maker = roundDown(amount, rc.size)
	if side == SideBuy {
		taker = normalizeAmount(maker/price, rc.amount)
	} else {
		taker = normalizeAmount(maker*price, rc.amount)
	}
	return maker, taker
}

// Level is one price level of an order book.
type Level struct {
	Price float64
	Size  float64
}

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Market  string     `json:"market"`
	AssetID string     `json:"asset_id"`
	Bids    []rawLevel `json:"bids"`
	Asks    []rawLevel `json:"asks"`
}

func parseLevels(raw []rawLevel) []Level {
	out := make([]Level, 0, len(raw))
	for _, l := range raw {
		p, err1 := strconv.ParseFloat(l.Price, 64)
		s, err2 := strconv.ParseFloat(l.Size, 64)
		if err1 != nil || err2 != nil || p <= 0 || s <= 0 {
			continue
		}
		out = append(out, Level{Price: p, Size: s})
	}
	return out
}

// marketPrice walks the book from the best level and returns the price of
// the level at which amount is fully matched.
func marketPrice(side Side, levels []Level, amount float64) (float64, error) {
	sorted := append([]Level(nil), levels...)
	if side == SideBuy {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })
	} else {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price > sorted[j].Price })
	}

	var matched float64
	for _, l := range sorted {
		if side == SideBuy {
			matched += l.Price * l.Size
		} else {
			matched += l.Size
		}
		if matched >= amount {
			return l.Price, nil
		}
	}
	return 0, ErrNoLiquidity
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// SignedOrder is the wire form of an order.
type SignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          Side   `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

type orderRequest struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType OrderType   `json:"orderType"`
}

// OrderResponse is the exchange's answer to POST /order.
type OrderResponse struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg"`
	OrderID     string   `json:"orderID"`
	OrderHashes []string `json:"orderHashes"`
	Status      string   `json:"status"`
}

type orderParams struct {
	tokenID       string
	side          Side
	makerAmount   float64
	takerAmount   float64
	maker         common.Address
	signer        common.Address
	signatureType int
	exchange      string
	chainID       int64
}

func randomSalt() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000_000))
	if err != nil {
		return 0, fmt.Errorf("generate salt: %w", err)
	}
	return n.Int64(), nil
}

func buildSignedOrder(key *ecdsa.PrivateKey, p orderParams) (SignedOrder, error) {
	tokenID, ok := new(big.Int).SetString(p.tokenID, 10)
	if !ok {
		return SignedOrder{}, fmt.Errorf("invalid token id %q", p.tokenID)
	}
	salt, err := randomSalt()
	if err != nil {
		return SignedOrder{}, err
	}

	makerAmt := toTokenDecimals(p.makerAmount)
	takerAmt := toTokenDecimals(p.takerAmount)

	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              exchangeDomainName,
			Version:           exchangeDomainVersion,
			ChainId:           ethmath.NewHexOrDecimal256(p.chainID),
			VerifyingContract: p.exchange,
		},
		Message: apitypes.TypedDataMessage{
			"salt":          big.NewInt(salt),
			"maker":         p.maker.Hex(),
			"signer":        p.signer.Hex(),
			"taker":         zeroAddress,
			"tokenId":       tokenID,
			"makerAmount":   makerAmt,
			"takerAmount":   takerAmt,
			"expiration":    big.NewInt(0),
			"nonce":         big.NewInt(0),
			"feeRateBps":    big.NewInt(0),
			"side":          big.NewInt(p.side.code()),
			"signatureType": big.NewInt(int64(p.signatureType)),
		},
	}

	sig, err := signTypedData(key, td)
	if err != nil {
		return SignedOrder{}, err
	}

	return SignedOrder{
		Salt:          salt,
		Maker:         p.maker.Hex(),
		Signer:        p.signer.Hex(),
		Taker:         zeroAddress,
		TokenID:       p.tokenID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          p.side,
		SignatureType: p.signatureType,
		Signature:     sig,
	}, nil
}
