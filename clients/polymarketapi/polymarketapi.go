package polymarketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"polycopy/config"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type PolymarketApiClient struct {
	logger       *zap.Logger
	httpClient   *http.Client
	gammaBaseURL string
	dataBaseURL  string
	now          func() time.Time
}

func NewPolymarketApiClient(logger *zap.Logger, cfg *config.Config) *PolymarketApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PolymarketApiClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		gammaBaseURL: cfg.Polymarket.GammaAPIURL,
		dataBaseURL:  cfg.Polymarket.DataAPIURL,
		now:          time.Now,
	}
}

// StatusError is returned for non-2xx answers.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.StatusCode, e.Body)
}

// Temporary reports 5xx and rate-limit answers.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ---- Gamma API ----

type GammaMarket struct {
	ID           string          `json:"id"`
	Slug         string          `json:"slug"`
	Question     string          `json:"question"`
	ConditionID  string          `json:"conditionId"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
	Outcomes     json.RawMessage `json:"outcomes"`
	Active       bool            `json:"active"`
	Closed       bool            `json:"closed"`
}

// decodeStringList accepts a JSON array of strings or a JSON string that
// itself holds such an array. Gamma uses both.
func decodeStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &list); err == nil {
			return list
		}
	}
	return nil
}

// GetOutcomes returns the outcome names.
func (m *GammaMarket) GetOutcomes() []string {
	return decodeStringList(m.Outcomes)
}

// GetTokenIDs returns the CLOB token IDs, index-aligned with GetOutcomes.
func (m *GammaMarket) GetTokenIDs() []string {
	return decodeStringList(m.ClobTokenIDs)
}

// TokenForOutcome returns the token ID for the named outcome.
func (m *GammaMarket) TokenForOutcome(outcome string) (string, bool) {
	outcomes := m.GetOutcomes()
	tokens := m.GetTokenIDs()
	if len(outcomes) != len(tokens) {
		return "", false
	}
	for i, o := range outcomes {
		if strings.EqualFold(o, outcome) {
			return tokens[i], true
		}
	}
	return "", false
}

// GetMarketByConditionID fetches a specific market by its condition ID.
func (c *PolymarketApiClient) GetMarketByConditionID(
	ctx context.Context,
	conditionID string,
) (*GammaMarket, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("conditionID is empty")
	}

	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gammaBaseURL: %w", err)
	}
	u.Path = "/markets"

	q := u.Query()
	q.Set("condition_ids", conditionID)
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	var markets []GammaMarket
	if err := c.doGet(ctx, u.String(), &markets); err != nil {
		return nil, fmt.Errorf("get market by condition: %w", err)
	}

	if len(markets) == 0 {
		return nil, fmt.Errorf("market not found: %s", conditionID)
	}

	return &markets[0], nil
}

// ---- Data API ----

// Activity represents user activity from the data API.
type Activity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"` // TRADE, SPLIT, MERGE, REDEEM, REWARD, CONVERSION
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	Price           float64 `json:"price"`
	Side            string  `json:"side"`
	Asset           string  `json:"asset"`
	TransactionHash string  `json:"transactionHash"`

	Title        string `json:"title"`
	Slug         string `json:"slug"`
	Outcome      string `json:"outcome"`
	OutcomeIndex int    `json:"outcomeIndex"`

	Name      string `json:"name"`
	Pseudonym string `json:"pseudonym"`
}

// Time returns the activity timestamp.
func (a *Activity) Time() time.Time {
	return time.Unix(a.Timestamp, 0)
}

// ActivityQuery narrows an activity request. Zero values are omitted.
type ActivityQuery struct {
	Limit  int
	Offset int
	Type   string
	Side   string
}

// GetUserActivity fetches the newest activity for a wallet.
func (c *PolymarketApiClient) GetUserActivity(
	ctx context.Context,
	wallet string,
	query ActivityQuery,
) ([]Activity, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/activity"

	q := u.Query()
	q.Set("user", wallet)
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	q.Set("offset", strconv.Itoa(query.Offset))
	if query.Type != "" {
		q.Set("type", query.Type)
	}
	if query.Side != "" {
		q.Set("side", query.Side)
	}
	q.Set("sortBy", "TIMESTAMP")
	q.Set("sortDirection", "DESC")
	u.RawQuery = q.Encode()

	var activity []Activity
	if err := c.doGet(ctx, u.String(), &activity); err != nil {
		return nil, fmt.Errorf("get user activity: %w", err)
	}

	return activity, nil
}

// GetRecentBuys returns buy trades of wallet no older than window.
func (c *PolymarketApiClient) GetRecentBuys(
	ctx context.Context,
	wallet string,
	window time.Duration,
	limit int,
) ([]Activity, error) {
	activity, err := c.GetUserActivity(ctx, wallet, ActivityQuery{Limit: limit, Type: "TRADE"})
	if err != nil {
		return nil, err
	}

	cutoff := c.now().Add(-window)
	buys := make([]Activity, 0, len(activity))
	for _, a := range activity {
		if !strings.EqualFold(a.Side, "BUY") {
			continue
		}
		if a.Type != "" && a.Type != "TRADE" {
			continue
		}
		if a.Time().Before(cutoff) {
			continue
		}
		buys = append(buys, a)
	}
	return buys, nil
}

// Position represents an open position from the data API.
type Position struct {
	ProxyWallet        string   `json:"proxyWallet"`
	Asset              string   `json:"asset"`
	ConditionID        string   `json:"conditionId"`
	Size               float64  `json:"size"`
	AvgPrice           float64  `json:"avgPrice"`
	InitialValue       float64  `json:"initialValue"`
	CurrentValue       float64  `json:"currentValue"`
	CashPnl            float64  `json:"cashPnl"`
	PercentPnl         float64  `json:"percentPnl"`
	RealizedPnl        float64  `json:"realizedPnl"`
	PercentRealizedPnl *float64 `json:"percentRealizedPnl"`
	CurPrice           float64  `json:"curPrice"`
	Redeemable         bool     `json:"redeemable"`
	Title              string   `json:"title"`
	Slug               string   `json:"slug"`
	Outcome            string   `json:"outcome"`
	OutcomeIndex       int      `json:"outcomeIndex"`
	EndDate            string   `json:"endDate"`
	NegativeRisk       bool     `json:"negativeRisk"`
}

// PositionsQuery controls position paging.
type PositionsQuery struct {
	PageSize      int
	MaxOffset     int
	SizeThreshold string
	SortBy        string
}

// DefaultPositionsQuery pages 50 at a time up to offset 300.
func DefaultPositionsQuery() PositionsQuery {
	return PositionsQuery{
		PageSize:      50,
		MaxOffset:     300,
		SizeThreshold: ".1",
		SortBy:        "CURRENT",
	}
}

// GetPositions fetches all open positions of a wallet, page by page,
// stopping at the first short page.
func (c *PolymarketApiClient) GetPositions(
	ctx context.Context,
	wallet string,
	query PositionsQuery,
) ([]Position, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}
	def := DefaultPositionsQuery()
	if query.PageSize <= 0 {
		query.PageSize = def.PageSize
	}
	if query.MaxOffset <= 0 {
		query.MaxOffset = def.MaxOffset
	}
	if query.SizeThreshold == "" {
		query.SizeThreshold = def.SizeThreshold
	}
	if query.SortBy == "" {
		query.SortBy = def.SortBy
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/positions"

	var all []Position
	for offset := 0; offset < query.MaxOffset; offset += query.PageSize {
		q := url.Values{}
		q.Set("user", wallet)
		q.Set("sizeThreshold", query.SizeThreshold)
		q.Set("limit", strconv.Itoa(query.PageSize))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("sortBy", query.SortBy)
		q.Set("sortDirection", "DESC")
		u.RawQuery = q.Encode()

		var page []Position
		if err := c.doGet(ctx, u.String(), &page); err != nil {
			return nil, fmt.Errorf("get positions (offset %d): %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < query.PageSize {
			break
		}
	}

	return all, nil
}

// LeaderboardEntry is a trader's overall leaderboard row.
type LeaderboardEntry struct {
	Rank         json.Number `json:"rank"`
	ProxyWallet  string      `json:"proxyWallet"`
	UserName     string      `json:"userName"`
	Vol          float64     `json:"vol"`
	Pnl          float64     `json:"pnl"`
	ProfileImage string      `json:"profileImage"`
}

// DisplayName returns the user name, or a shortened wallet.
func (e *LeaderboardEntry) DisplayName() string {
	if e.UserName != "" {
		return e.UserName
	}
	w := e.ProxyWallet
	if len(w) > 10 {
		return w[:6] + "..." + w[len(w)-4:]
	}
	return w
}

// GetLeaderboardEntry fetches the all-time PnL leaderboard row for wallet.
func (c *PolymarketApiClient) GetLeaderboardEntry(
	ctx context.Context,
	wallet string,
) (*LeaderboardEntry, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/v1/leaderboard"

	q := u.Query()
	q.Set("user", wallet)
	q.Set("timePeriod", "all")
	q.Set("orderBy", "PNL")
	q.Set("category", "overall")
	q.Set("limit", "1")
	q.Set("offset", "0")
	u.RawQuery = q.Encode()

	var entries []LeaderboardEntry
	if err := c.doGet(ctx, u.String(), &entries); err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}
	if len(entries) == 0 {
		return &LeaderboardEntry{ProxyWallet: wallet}, nil
	}

	return &entries[0], nil
}

func (c *PolymarketApiClient) doGet(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}
