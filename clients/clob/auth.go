package clob

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
)

const (
	headerAddress    = "POLY_ADDRESS"
	headerSignature  = "POLY_SIGNATURE"
	headerTimestamp  = "POLY_TIMESTAMP"
	headerNonce      = "POLY_NONCE"
	headerAPIKey     = "POLY_API_KEY"
	headerPassphrase = "POLY_PASSPHRASE"
)

const (
	authDomainName    = "ClobAuthDomain"
	authDomainVersion = "1"
	authMessage       = "This message attests that I control the given wallet"
)

// Credentials are the L2 API key triple.
type Credentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Complete reports whether all three parts are present.
func (c *Credentials) Complete() bool {
	return c != nil && c.APIKey != "" && c.Secret != "" && c.Passphrase != ""
}

// IsReady reports whether the client holds credentials younger than the
// refresh interval.
func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.Complete() && c.now().Sub(c.credsAt) < c.credTTL
}

// EnsureAuthenticated installs fresh API credentials. Configured
// credentials are used first; every later call creates a new key, falling
// back to deriving the existing one.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.configured.Complete() && !c.configuredUsed {
		c.configuredUsed = true
		c.creds = c.configured
		c.credsAt = c.now()
		c.logger.Info("using configured api credentials")
		return nil
	}

	creds, err := c.createAPIKey(ctx)
	if err != nil {
		c.logger.Debug("create api key failed, deriving", zap.Error(err))
		creds, err = c.deriveAPIKey(ctx)
	}
	if err != nil {
		return fmt.Errorf("obtain api credentials: %w", err)
	}
	if !creds.Complete() {
		return errors.New("obtain api credentials: incomplete response")
	}

	c.creds = creds
	c.credsAt = c.now()
	c.logger.Info("api credentials refreshed")
	return nil
}

func (c *Client) createAPIKey(ctx context.Context) (*Credentials, error) {
	return c.requestCredentials(ctx, http.MethodPost, "/auth/api-key")
}

func (c *Client) deriveAPIKey(ctx context.Context) (*Credentials, error) {
	return c.requestCredentials(ctx, http.MethodGet, "/auth/derive-api-key")
}

func (c *Client) requestCredentials(ctx context.Context, method, path string) (*Credentials, error) {
	headers, err := c.level1Headers(0)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, method, path, nil, headers)
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return &creds, nil
}

// level1Headers signs a ClobAuth message with the wallet key.
func (c *Client) level1Headers(nonce int64) (map[string]string, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	ts := c.now().Unix()
	sig, err := signClobAuth(c.key, c.address.Hex(), c.chainID, ts, nonce)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		headerAddress:   c.address.Hex(),
		headerSignature: sig,
		headerTimestamp: strconv.FormatInt(ts, 10),
		headerNonce:     strconv.FormatInt(nonce, 10),
	}, nil
}

// level2Headers authenticates a request with the API key.
// Caller holds c.mu or owns creds.
func (c *Client) level2Headers(creds *Credentials, method, path string, body []byte) (map[string]string, error) {
	if !creds.Complete() {
		return nil, errors.New("missing api credentials")
	}
	ts := c.now().Unix()
	sig, err := buildHMACSignature(creds.Secret, ts, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		headerAddress:    c.address.Hex(),
		headerSignature:  sig,
		headerTimestamp:  strconv.FormatInt(ts, 10),
		headerAPIKey:     creds.APIKey,
		headerPassphrase: creds.Passphrase,
	}, nil
}

func signClobAuth(key *ecdsa.PrivateKey, address string, chainID, timestamp, nonce int64) (string, error) {
	return signTypedData(key, clobAuthTypedData(address, chainID, timestamp, nonce))
}

func clobAuthTypedData(address string, chainID, timestamp, nonce int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    authDomainName,
			Version: authDomainVersion,
			ChainId: ethmath.NewHexOrDecimal256(chainID),
		},
		Message: apitypes.TypedDataMessage{
			"address":   address,
			"timestamp": strconv.FormatInt(timestamp, 10),
			"nonce":     strconv.FormatInt(nonce, 10),
			"message":   authMessage,
		},
	}
}

func signTypedData(key *ecdsa.PrivateKey, td apitypes.TypedData) (string, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return "", fmt.Errorf("hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// buildHMACSignature signs timestamp+method+path+body with the
// base64url-encoded API secret.
func buildHMACSignature(secret string, timestamp int64, method, path string, body []byte) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	msg := strconv.FormatInt(timestamp, 10) + method + path
	if len(body) > 0 {
		msg += strings.ReplaceAll(string(body), "'", `"`)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func decodeSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	return base64.URLEncoding.DecodeString(s)
}
