package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/prepaccess/internal/config"
)

// ErrRejected возвращается, если шлюз ответил статусом ошибки.
var ErrRejected = errors.New("gateway rejected request")

// Client клиент API шлюза. Исходящие запросы ограничены по частоте.
type Client struct {
	merchantID  string
	apiURL      string
	callbackURL string
	testMode    bool
	signer      *Verifier
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewClient создаёт клиент шлюза.
func NewClient(cfg config.Gateway, signer *Verifier) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		merchantID:  cfg.MerchantID,
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		callbackURL: cfg.CallbackURL,
		testMode:    cfg.TestMode,
		signer:      signer,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// LinkRequest параметры создания платёжной ссылки.
type LinkRequest struct {
	Name       string
	Price      int64
	Currency   string
	Email      string
	CallbackID string // идентификатор корреляции, возвращается в уведомлении
}

// LinkResponse созданная ссылка.
type LinkResponse struct {
	ID  string `json:"id"`
	URL string `json:"link"`
}

// CreateLink создаёт платёжную ссылку.
func (c *Client) CreateLink(ctx context.Context, req LinkRequest) (*LinkResponse, error) {
	const op = "gateway.CreateLink"

	const (
		maxInstallment = "1"
		linkType       = "product"
		lang           = "tr"
		minCount       = "1"
	)
	price := strconv.FormatInt(req.Price, 10)
	form := url.Values{
		"merchant_id":     {c.merchantID},
		"name":            {req.Name},
		"price":           {price},
		"currency":        {req.Currency},
		"max_installment": {maxInstallment},
		"link_type":       {linkType},
		"lang":            {lang},
		"min_count":       {minCount},
		"email":           {req.Email},
		"callback_link":   {c.callbackURL},
		"callback_id":     {req.CallbackID},
		"debug_on":        {c.flag(c.testMode)},
		"paytr_token":     {c.signer.token(req.Name, price, req.Currency, maxInstallment, linkType, lang, minCount)},
	}

	var resp struct {
		Status string `json:"status"`
		ID     string `json:"id"`
		Link   string `json:"link"`
		ErrMsg string `json:"err_msg"`
	}
	if err := c.post(ctx, "/odeme/api/link/create", form, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrRejected, resp.ErrMsg)
	}
	return &LinkResponse{ID: resp.ID, URL: resp.Link}, nil
}

// IframeRequest параметры получения токена iframe-оплаты.
type IframeRequest struct {
	MerchantOID string
	Email       string
	UserIP      string
	Name        string
	Amount      int64
	Currency    string
}

// IframeResponse токен и адрес страницы оплаты.
type IframeResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// CreateIframeToken получает токен для встраиваемой формы оплаты.
func (c *Client) CreateIframeToken(ctx context.Context, req IframeRequest) (*IframeResponse, error) {
	const op = "gateway.CreateIframeToken"

	const (
		noInstallment  = "1"
		maxInstallment = "0"
	)
	amount := strconv.FormatInt(req.Amount, 10)
	basketJSON, err := json.Marshal([][]any{{req.Name, amount, 1}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	basket := base64.StdEncoding.EncodeToString(basketJSON)
	testMode := c.flag(c.testMode)

	form := url.Values{
		"merchant_id":     {c.merchantID},
		"user_ip":         {req.UserIP},
		"merchant_oid":    {req.MerchantOID},
		"email":           {req.Email},
		"payment_amount":  {amount},
		"user_basket":     {basket},
		"no_installment":  {noInstallment},
		"max_installment": {maxInstallment},
		"currency":        {req.Currency},
		"test_mode":       {testMode},
		"debug_on":        {testMode},
		"timeout_limit":   {"30"},
		"paytr_token": {c.signer.token(c.merchantID, req.UserIP, req.MerchantOID, req.Email,
			amount, basket, noInstallment, maxInstallment, req.Currency, testMode)},
	}

	var resp struct {
		Status string `json:"status"`
		Token  string `json:"token"`
		Reason string `json:"reason"`
	}
	if err := c.post(ctx, "/odeme/api/get-token", form, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrRejected, resp.Reason)
	}
	return &IframeResponse{
		Token: resp.Token,
		URL:   c.apiURL + "/odeme/guvenli/" + resp.Token,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.New("unexpected status: " + resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
