package broker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"kite-gtt/internal/errors"
	"kite-gtt/internal/logging"
	"kite-gtt/internal/models"
	"kite-gtt/pkg/utils"
)

var _ Broker = (*KiteBroker)(nil)

// KiteBroker implements Broker for Zerodha Kite Connect.
type KiteBroker struct {
	client        *kiteconnect.Client
	apiSecret     string
	userID        string
	accessToken   string
	tokenPath     string
	authenticated bool
	retry         utils.RetryConfig
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// KiteConfig holds configuration for the Kite broker.
type KiteConfig struct {
	APIKey    string
	APISecret string
	UserID    string
	TokenPath string
}

// NewKiteBroker creates a Kite broker and loads any saved session from disk.
func NewKiteBroker(cfg KiteConfig, logger zerolog.Logger) *KiteBroker {
	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "kite-gtt", "session.json")
	}

	retry := utils.DefaultRetryConfig()
	retry.ShouldRetry = isRetryable

	kb := &KiteBroker{
		client:    kiteconnect.New(cfg.APIKey),
		apiSecret: cfg.APISecret,
		userID:    cfg.UserID,
		tokenPath: tokenPath,
		retry:     retry,
		logger:    logger.With().Str("component", "kite").Logger(),
	}

	if err := kb.loadSession(); err != nil && !os.IsNotExist(err) {
		kb.logger.Debug().Err(err).Msg("No usable saved session")
	}
	return kb
}

// sessionData represents persisted session data.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login verifies the saved session. When there is none, the returned error
// carries the login URL to visit before calling CompleteLogin.
func (k *KiteBroker) Login(ctx context.Context) error {
	if k.IsAuthenticated() {
		if _, err := k.client.GetUserProfile(); err == nil {
			return nil
		}
		k.mu.Lock()
		k.authenticated = false
		k.mu.Unlock()
	}

	return errors.NewBrokerError("LOGIN_REQUIRED",
		fmt.Sprintf("visit %s and complete login, then run auth complete with the request token", k.client.GetLoginURL()),
		errors.ErrNotAuthenticated)
}

// LoginURL returns the Kite login URL for this API key.
func (k *KiteBroker) LoginURL() string {
	return k.client.GetLoginURL()
}

// CompleteLogin exchanges the request token for an access token and persists it.
func (k *KiteBroker) CompleteLogin(ctx context.Context, requestToken string) error {
	requestToken = strings.TrimSpace(requestToken)
	if requestToken == "" {
		return errors.NewValidationError("request_token", requestToken, "required")
	}

	session, err := k.client.GenerateSession(requestToken, k.apiSecret)
	if err != nil {
		return errors.NewBrokerError("SESSION", "failed to generate session", err)
	}

	k.mu.Lock()
	k.accessToken = session.AccessToken
	k.authenticated = true
	k.client.SetAccessToken(session.AccessToken)
	k.mu.Unlock()

	if err := k.saveSession(session.AccessToken); err != nil {
		k.logger.Warn().Err(err).Msg("Failed to persist session")
	}
	return nil
}

// Logout invalidates the session and clears stored credentials.
func (k *KiteBroker) Logout(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.authenticated {
		if _, err := k.client.InvalidateAccessToken(); err != nil {
			k.logger.Warn().Err(err).Msg("Failed to invalidate token")
		}
	}

	k.accessToken = ""
	k.authenticated = false

	if err := os.Remove(k.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// IsAuthenticated returns whether the broker is authenticated.
func (k *KiteBroker) IsAuthenticated() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.authenticated
}

func (k *KiteBroker) loadSession() error {
	data, err := os.ReadFile(k.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	// Kite tokens expire at 6 AM IST the next day.
	if time.Now().After(session.ExpiresAt) {
		return errors.ErrSessionExpired
	}

	k.mu.Lock()
	k.accessToken = session.AccessToken
	k.authenticated = true
	k.client.SetAccessToken(session.AccessToken)
	k.mu.Unlock()
	return nil
}

func (k *KiteBroker) saveSession(accessToken string) error {
	if err := os.MkdirAll(filepath.Dir(k.tokenPath), 0700); err != nil {
		return err
	}

	data, err := json.Marshal(sessionData{
		AccessToken: accessToken,
		UserID:      k.userID,
		ExpiresAt:   SessionExpiry(time.Now()),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(k.tokenPath, data, 0600)
}

// SessionExpiry is the next 06:00 IST after now.
func SessionExpiry(now time.Time) time.Time {
	ist := now.In(utils.IndiaLocation)
	day := ist.Day() + 1
	if ist.Hour() < 6 {
		day = ist.Day()
	}
	return time.Date(ist.Year(), ist.Month(), day, 6, 0, 0, 0, utils.IndiaLocation)
}

// GetHoldings returns delivery holdings. Rows without a symbol are dropped.
func (k *KiteBroker) GetHoldings(ctx context.Context) ([]models.Holding, error) {
	if !k.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}

	start := time.Now()
	holdings, err := utils.RetryWithResult(ctx, k.retry, func() (kiteconnect.Holdings, error) {
		return k.client.GetHoldings()
	})
	logging.LogAPICall(k.logger, "GET", "/portfolio/holdings", time.Since(start), err)
	if err != nil {
		return nil, wrapKiteError("failed to get holdings", err)
	}

	result := make([]models.Holding, 0, len(holdings))
	for _, h := range holdings {
		holding, err := holdingFromKite(h)
		if err != nil {
			k.logger.Warn().Err(err).Msg("Dropping malformed holding")
			continue
		}
		result = append(result, holding)
	}
	return result, nil
}

func holdingFromKite(h kiteconnect.Holding) (models.Holding, error) {
	symbol := models.NormalizeSymbol(h.Tradingsymbol)
	if symbol == "" {
		return models.Holding{}, errors.NewValidationError("tradingsymbol", h.Tradingsymbol, "holding without symbol")
	}
	return models.Holding{
		Symbol:       symbol,
		Exchange:     models.Exchange(h.Exchange),
		ISIN:         h.ISIN,
		Quantity:     int(h.Quantity),
		T1Quantity:   int(h.T1Quantity),
		AveragePrice: h.AveragePrice,
		LastPrice:    h.LastPrice,
	}, nil
}

// GetTrades returns today's tradebook.
func (k *KiteBroker) GetTrades(ctx context.Context) ([]models.Trade, error) {
	if !k.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}

	start := time.Now()
	trades, err := utils.RetryWithResult(ctx, k.retry, func() (kiteconnect.Trades, error) {
		return k.client.GetTrades()
	})
	logging.LogAPICall(k.logger, "GET", "/trades", time.Since(start), err)
	if err != nil {
		return nil, wrapKiteError("failed to get trades", err)
	}

	result := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		trade, err := tradeFromKite(t)
		if err != nil {
			k.logger.Warn().Err(err).Msg("Dropping malformed trade")
			continue
		}
		result = append(result, trade)
	}
	return result, nil
}

func tradeFromKite(t kiteconnect.Trade) (models.Trade, error) {
	if t.TradeID == "" {
		return models.Trade{}, errors.NewValidationError("trade_id", t.TradeID, "trade without id")
	}
	executed := t.ExchangeTimestamp.Time
	if executed.IsZero() {
		executed = t.FillTimestamp.Time
	}
	ist := executed.In(utils.IndiaLocation)
	return models.Trade{
		ID:         t.TradeID,
		OrderID:    t.OrderID,
		Symbol:     models.NormalizeSymbol(t.TradingSymbol),
		Exchange:   models.Exchange(t.Exchange),
		Side:       models.OrderSide(t.TransactionType),
		Quantity:   int(t.Quantity),
		Price:      t.AveragePrice,
		TradeDate:  time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, time.UTC),
		ExecutedAt: executed,
	}, nil
}

// GetOrders returns the day's regular orders.
func (k *KiteBroker) GetOrders(ctx context.Context) ([]models.Order, error) {
	if !k.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}

	orders, err := utils.RetryWithResult(ctx, k.retry, func() (kiteconnect.Orders, error) {
		return k.client.GetOrders()
	})
	if err != nil {
		return nil, wrapKiteError("failed to get orders", err)
	}

	result := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		result = append(result, models.Order{
			ID:           o.OrderID,
			Symbol:       models.NormalizeSymbol(o.TradingSymbol),
			Exchange:     models.Exchange(o.Exchange),
			Side:         models.OrderSide(o.TransactionType),
			Type:         models.OrderType(o.OrderType),
			Product:      models.ProductType(o.Product),
			Quantity:     int(o.Quantity),
			Price:        o.Price,
			TriggerPrice: o.TriggerPrice,
			Status:       o.Status,
			FilledQty:    int(o.FilledQuantity),
			AveragePrice: o.AveragePrice,
			PlacedAt:     o.OrderTimestamp.Time,
		})
	}
	return result, nil
}

// GetGTTs returns every GTT the broker reports. Records without a leg or a
// trigger value are dropped with a warning.
func (k *KiteBroker) GetGTTs(ctx context.Context) ([]models.GTTOrder, error) {
	if !k.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}

	start := time.Now()
	gtts, err := utils.RetryWithResult(ctx, k.retry, func() (kiteconnect.GTTs, error) {
		return k.client.GetGTTs()
	})
	logging.LogAPICall(k.logger, "GET", "/gtt/triggers", time.Since(start), err)
	if err != nil {
		return nil, wrapKiteError("failed to get GTTs", err)
	}

	result := make([]models.GTTOrder, 0, len(gtts))
	for _, g := range gtts {
		order, err := gttFromKite(g)
		if err != nil {
			k.logger.Warn().Err(err).Int("gtt_id", g.ID).Msg("Dropping malformed GTT")
			continue
		}
		result = append(result, order)
	}
	return result, nil
}

func gttFromKite(g kiteconnect.GTT) (models.GTTOrder, error) {
	if len(g.Orders) == 0 {
		return models.GTTOrder{}, errors.NewValidationError("orders", g.ID, "GTT without order legs")
	}
	if len(g.Condition.TriggerValues) == 0 {
		return models.GTTOrder{}, errors.NewValidationError("trigger_values", g.ID, "GTT without trigger values")
	}

	order := models.GTTOrder{
		ID:           strconv.Itoa(g.ID),
		Symbol:       models.NormalizeSymbol(g.Condition.Tradingsymbol),
		Exchange:     models.Exchange(g.Condition.Exchange),
		TriggerType:  string(g.Type),
		TriggerPrice: g.Condition.TriggerValues[0],
		LastPrice:    g.Condition.LastPrice,
		Status:       strings.ToLower(g.Status),
		CreatedAt:    g.CreatedAt.Time,
		UpdatedAt:    g.UpdatedAt.Time,
	}
	// Kite has no triggered_at; the last update is when the trigger fired.
	if order.Status == models.GTTStatusTriggered {
		order.TriggeredAt = order.UpdatedAt
	}

	for _, o := range g.Orders {
		order.Orders = append(order.Orders, models.GTTOrderLeg{
			Side:     models.OrderSide(o.TransactionType),
			Type:     models.OrderType(o.OrderType),
			Product:  models.ProductType(o.Product),
			Quantity: int(o.Quantity),
			Price:    o.Price,
		})
	}
	return order, nil
}

// PlaceGTT places a single-leg GTT. Placement is never retried so a timeout
// cannot create a duplicate trigger.
func (k *KiteBroker) PlaceGTT(ctx context.Context, gtt *models.GTTOrder) (*GTTResult, error) {
	if !k.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}
	if err := ValidateGTT(gtt); err != nil {
		return nil, err
	}

	leg := gtt.Orders[0]
	params := kiteconnect.GTTParams{
		Tradingsymbol:   gtt.Symbol,
		Exchange:        string(gtt.Exchange),
		LastPrice:       gtt.LastPrice,
		TransactionType: string(leg.Side),
		Product:         string(leg.Product),
		Trigger: &kiteconnect.GTTSingleLegTrigger{
			TriggerParams: kiteconnect.TriggerParams{
				TriggerValue: gtt.TriggerPrice,
				LimitPrice:   leg.Price,
				Quantity:     float64(leg.Quantity),
			},
		},
	}

	start := time.Now()
	resp, err := k.client.PlaceGTT(params)
	logging.LogAPICall(k.logger, "POST", "/gtt/triggers", time.Since(start), err)
	if err != nil {
		return nil, errors.NewOrderError("", gtt.Symbol, "place_gtt", kiteMessage(err), wrapKiteError("failed to place GTT", err))
	}

	return &GTTResult{
		TriggerID: strconv.Itoa(resp.TriggerID),
		Status:    models.GTTStatusActive,
		Message:   "GTT placed",
	}, nil
}

// CancelGTT deletes a GTT by id.
func (k *KiteBroker) CancelGTT(ctx context.Context, gttID string) error {
	if !k.IsAuthenticated() {
		return errors.ErrNotAuthenticated
	}

	triggerID, err := strconv.Atoi(strings.TrimSpace(gttID))
	if err != nil {
		return errors.NewValidationError("gtt_id", gttID, "must be numeric")
	}

	start := time.Now()
	_, err = k.client.DeleteGTT(triggerID)
	logging.LogAPICall(k.logger, "DELETE", "/gtt/triggers/"+gttID, time.Since(start), err)
	if err != nil {
		return errors.NewOrderError(gttID, "", "delete_gtt", kiteMessage(err), wrapKiteError("failed to delete GTT", err))
	}
	return nil
}

// isRetryable retries network failures only. Token, input and permission
// errors will not change on a second attempt.
func isRetryable(err error) bool {
	var kerr kiteconnect.Error
	if stderrors.As(err, &kerr) {
		return kerr.ErrorType == kiteconnect.NetworkError || kerr.ErrorType == kiteconnect.GeneralError
	}
	return true
}

func wrapKiteError(message string, err error) error {
	var kerr kiteconnect.Error
	if stderrors.As(err, &kerr) {
		if kerr.ErrorType == kiteconnect.TokenError {
			return errors.NewBrokerError(kerr.ErrorType, message, errors.ErrSessionExpired)
		}
		return errors.NewBrokerError(kerr.ErrorType, message+": "+kerr.Message, err)
	}
	return errors.NewBrokerError("", message, err)
}

func kiteMessage(err error) string {
	var kerr kiteconnect.Error
	if stderrors.As(err, &kerr) {
		return kerr.Message
	}
	return err.Error()
}
