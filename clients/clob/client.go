// Package clob places orders on the Polymarket central limit order book.
package clob

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const (
	defaultHost          = "https://clob.polymarket.com"
	defaultCredentialTTL = 50 * time.Minute
)

// Config describes one trading account.
type Config struct {
	Host    string
	ChainID int64
	// PrivateKey is the hex-encoded signer key, with or without 0x.
	PrivateKey string
	// Funder is the proxy wallet holding funds. Empty means the signer
	// trades from its own address.
	Funder        string
	SignatureType int
	Credentials   *Credentials
	CredentialTTL time.Duration
	HTTPClient    *http.Client
}

// Client is a CLOB trading client bound to one wallet.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	host       string
	chainID    int64

	key           *ecdsa.PrivateKey
	address       common.Address
	funder        common.Address
	signatureType int

	mu             sync.Mutex
	configured     *Credentials
	configuredUsed bool
	creds          *Credentials
	credsAt        time.Time
	credTTL        time.Duration

	now func() time.Time
}

// New creates a client. The private key is required.
func New(logger *zap.Logger, cfg Config) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x")
	if keyHex == "" {
		return nil, ErrNoSigner
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = defaultHost
	}
	if _, err := exchangeAddress(cfg.ChainID, false); err != nil {
		return nil, err
	}
	ttl := cfg.CredentialTTL
	if ttl <= 0 {
		ttl = defaultCredentialTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	c := &Client{
		logger:     logger.Named("clob"),
		httpClient: httpClient,
		host:       host,
		chainID:    cfg.ChainID,
		key:        key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		credTTL:    ttl,
		now:        time.Now,
	}
	c.funder = c.address
	if f := strings.TrimSpace(cfg.Funder); f != "" {
		if !common.IsHexAddress(f) {
			return nil, fmt.Errorf("invalid funder address %q", f)
		}
		c.funder = common.HexToAddress(f)
		c.signatureType = cfg.SignatureType
	}
	if cfg.Credentials.Complete() {
		creds := *cfg.Credentials
		c.configured = &creds
	}
	return c, nil
}

// Address returns the signer address.
func (c *Client) Address() string { return c.address.Hex() }

// Funder returns the address orders are placed for.
func (c *Client) Funder() string { return c.funder.Hex() }

// Buy spends amount USDC on tokenID with a fill-or-kill market order.
func (c *Client) Buy(ctx context.Context, tokenID string, amount float64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("invalid buy amount %.4f", amount)
	}
	resp, err := c.placeMarketOrder(ctx, tokenID, SideBuy, amount, OrderTypeFOK)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("bought $%.2f, order %s (%s)", amount, resp.OrderID, resp.Status), nil
}

// Sell sells size shares of tokenID at the price that clears the bids.
func (c *Client) Sell(ctx context.Context, tokenID string, size float64) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("invalid sell size %.4f", size)
	}
	resp, err := c.placeMarketOrder(ctx, tokenID, SideSell, size, OrderTypeGTC)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("sold %.2f shares, order %s (%s)", size, resp.OrderID, resp.Status), nil
}

func (c *Client) placeMarketOrder(ctx context.Context, tokenID string, side Side, amount float64, orderType OrderType) (*OrderResponse, error) {
	creds := c.currentCredentials()
	if creds == nil {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Method: http.MethodPost, Path: "/order", Body: "no api credentials"}
	}

	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	levels := book.Asks
	if side == SideSell {
		levels = book.Bids
	}
	price, err := marketPrice(side, levels, amount)
	if err != nil {
		return nil, err
	}

	tick, err := c.GetTickSize(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	tickVal, err := strconv.ParseFloat(tick, 64)
	if err != nil || tickVal <= 0 {
		return nil, fmt.Errorf("invalid tick size %q", tick)
	}
	if !priceValid(price, tickVal) {
		return nil, fmt.Errorf("price %.4f outside [%s, %.4f]", price, tick, 1-tickVal)
	}

	negRisk, err := c.GetNegRisk(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	exchange, err := exchangeAddress(c.chainID, negRisk)
	if err != nil {
		return nil, err
	}

	maker, taker := marketAmounts(side, amount, price, roundingFor(tick))
	order, err := buildSignedOrder(c.key, orderParams{
		tokenID:       tokenID,
		side:          side,
		makerAmount:   maker,
		takerAmount:   taker,
		maker:         c.funder,
		signer:        c.address,
		signatureType: c.signatureType,
		exchange:      exchange,
		chainID:       c.chainID,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("posting order",
		zap.String("token_id", tokenID),
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("maker_amount", maker),
		zap.Float64("taker_amount", taker),
	)
	return c.postOrder(ctx, creds, order, orderType)
}

func (c *Client) postOrder(ctx context.Context, creds *Credentials, order SignedOrder, orderType OrderType) (*OrderResponse, error) {
	body, err := json.Marshal(orderRequest{Order: order, Owner: creds.APIKey, OrderType: orderType})
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}
	headers, err := c.level2Headers(creds, http.MethodPost, "/order", body)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, http.MethodPost, "/order", body, headers)
	if err != nil {
		return nil, err
	}

	var resp OrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if !resp.Success {
		reason := resp.ErrorMsg
		if reason == "" {
			reason = "unknown error"
		}
		return nil, &OrderRejectedError{Reason: reason, Status: resp.Status}
	}
	return &resp, nil
}

func (c *Client) currentCredentials() *Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.creds.Complete() {
		return nil
	}
	creds := *c.creds
	return &creds
}

// Book is an order book snapshot.
type Book struct {
	Bids []Level
	Asks []Level
}

// GetOrderBook returns the book for tokenID.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*Book, error) {
	var raw bookResponse
	if err := c.getJSON(ctx, "/book", tokenID, &raw); err != nil {
		return nil, fmt.Errorf("get order book: %w", err)
	}
	return &Book{Bids: parseLevels(raw.Bids), Asks: parseLevels(raw.Asks)}, nil
}

// GetTickSize returns the minimum tick as a decimal string.
func (c *Client) GetTickSize(ctx context.Context, tokenID string) (string, error) {
	var resp struct {
		MinimumTickSize flexString `json:"minimum_tick_size"`
	}
	if err := c.getJSON(ctx, "/tick-size", tokenID, &resp); err != nil {
		return "", fmt.Errorf("get tick size: %w", err)
	}
	if resp.MinimumTickSize == "" {
		return "0.01", nil
	}
	return string(resp.MinimumTickSize), nil
}

// GetNegRisk reports whether tokenID trades on the neg-risk exchange.
func (c *Client) GetNegRisk(ctx context.Context, tokenID string) (bool, error) {
	var resp struct {
		NegRisk bool `json:"neg_risk"`
	}
	if err := c.getJSON(ctx, "/neg-risk", tokenID, &resp); err != nil {
		return false, fmt.Errorf("get neg risk: %w", err)
	}
	return resp.NegRisk, nil
}

func (c *Client) getJSON(ctx context.Context, path, tokenID string, dest any) error {
	if strings.TrimSpace(tokenID) == "" {
		return fmt.Errorf("tokenID is empty")
	}
	q := url.Values{}
	q.Set("token_id", tokenID)
	raw, err := c.do(ctx, http.MethodGet, path+"?"+q.Encode(), nil, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       strings.SplitN(path, "?", 2)[0],
			Body:       string(raw),
		}
	}
	return raw, nil
}
