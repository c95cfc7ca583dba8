package payu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sarfarazstark/audiophile/internal/obs"
	"github.com/sarfarazstark/audiophile/internal/resilience"
)

const verifyCommand = "verify_payment"

// ErrUnavailable is returned when the circuit breaker refuses an outbound call.
var ErrUnavailable = errors.New("payu: provider temporarily unavailable")

// RejectionError carries the provider's own message for a declined
// initiation request so handlers can surface it without inventing one.
type RejectionError struct {
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("payu: initiation rejected (http %d)", e.Status)
	}
	return "payu: " + e.Message
}

// Client talks to PayU's hosted-checkout and post-service APIs.
type Client struct {
	Codec   Codec
	Sandbox bool
	HTTP    *http.Client
	Breaker *resilience.Breaker
	Logger  zerolog.Logger

	// Overridable in tests; empty means the environment-selected host.
	PaymentBaseURL string
	QueryBaseURL   string
}

// CheckoutRequest describes a hosted-checkout initiation.
type CheckoutRequest struct {
	TxnID       string
	AmountMinor int64
	ProductInfo string

	FirstName    string
	Email        string
	Phone        string
	AddressLine1 string
	City         string
	State        string
	Country      string
	PostalCode   string

	SuccessURL string
	FailureURL string
	CancelURL  string
}

// VerifyResult is the normalised outcome of a verify_payment query.
type VerifyResult struct {
	Confirmed      bool
	Status         string // "success", "failure", "pending", ...
	ProviderTxnID  string
	AmountMinor    int64
	FailureMessage string
}

func (c *Client) paymentHost() string {
	if strings.TrimSpace(c.PaymentBaseURL) != "" {
		return strings.TrimRight(c.PaymentBaseURL, "/")
	}
	if c.Sandbox {
		return "https://apitest.payu.in"
	}
	return "https://api.payu.in"
}

func (c *Client) queryHost() string {
	if strings.TrimSpace(c.QueryBaseURL) != "" {
		return strings.TrimRight(c.QueryBaseURL, "/")
	}
	if c.Sandbox {
		return "https://test.payu.in"
	}
	return "https://info.payu.in"
}

func (c *Client) formHost() string {
	if c.Sandbox {
		return "https://test.payu.in"
	}
	return "https://secure.payu.in"
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// InitiateHosted opens a hosted-checkout transaction and returns the URL the
// customer must be redirected to. The JSON payload field layout follows the
// non-seamless checkout API.
func (c *Client) InitiateHosted(ctx context.Context, req CheckoutRequest) (string, error) {
	if strings.TrimSpace(c.Codec.Key) == "" || strings.TrimSpace(c.Codec.Salt) == "" {
		return "", errors.New("payu: merchant key and salt are required")
	}
	if strings.TrimSpace(req.TxnID) == "" {
		return "", errors.New("payu: txnid is required")
	}
	if c.Breaker != nil && !c.Breaker.Allow(ctx) {
		return "", ErrUnavailable
	}

	payload := map[string]any{
		"accountId": c.Codec.Key,
		"txnId":     req.TxnID,
		"order": map[string]any{
			"productInfo":                req.ProductInfo,
			"paymentChargeSpecification": map[string]any{"price": FormatAmount(req.AmountMinor)},
		},
		"billingDetails": map[string]any{
			"firstName": req.FirstName,
			"email":     req.Email,
			"phone":     req.Phone,
			"address": map[string]any{
				"address1": req.AddressLine1,
				"city":     req.City,
				"state":    req.State,
				"country":  req.Country,
				"zipCode":  req.PostalCode,
			},
		},
		"callBackActions": map[string]any{
			"successAction": req.SuccessURL,
			"failureAction": req.FailureURL,
			"cancelAction":  req.CancelURL,
		},
		"additionalInfo": map[string]any{"txnFlow": "non-seamless"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("payu: encode payload: %w", err)
	}

	date := time.Now().UTC().Format(http.TimeFormat)
	signature := c.Codec.SignRequest(date)
	authHeader := fmt.Sprintf("hmac username=%q, algorithm=\"sha512\", headers=\"date\", signature=%q", c.Codec.Key, signature)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.paymentHost()+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Date", date)
	httpReq.Header.Set("Authorization", authHeader)

	start := time.Now()
	resp, err := c.httpClient().Do(httpReq)
	c.observe("initiate", start)
	if err != nil {
		c.report(ctx, false)
		return "", fmt.Errorf("payu: initiation request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.report(ctx, false)
		return "", fmt.Errorf("payu: read initiation response: %w", err)
	}

	var decoded struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Result  struct {
			CheckoutURL string `json:"checkoutUrl"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.report(ctx, false)
		return "", fmt.Errorf("payu: decode initiation response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		c.report(ctx, false)
		return "", &RejectionError{Status: resp.StatusCode, Message: decoded.Message}
	}
	// 4xx means the provider understood and declined; the dependency itself
	// is healthy, so the breaker records a success.
	c.report(ctx, true)
	if resp.StatusCode != http.StatusOK || decoded.Result.CheckoutURL == "" {
		msg := decoded.Message
		if msg == "" {
			msg = decoded.Status
		}
		return "", &RejectionError{Status: resp.StatusCode, Message: msg}
	}
	return decoded.Result.CheckoutURL, nil
}

// WidgetBundle carries everything a client-side embedded checkout needs to
// post the payment form itself.
type WidgetBundle struct {
	Action string            `json:"action"`
	Params map[string]string `json:"params"`
	Hash   string            `json:"hash"`
}

// WidgetParams builds the parameter-plus-hash bundle for the embedded
// checkout flow. No network call is made; the customer's browser submits the
// form directly to the provider.
func (c *Client) WidgetParams(f Fields, phone, surl, furl string) WidgetBundle {
	params := map[string]string{
		"key":         c.Codec.Key,
		"txnid":       f.TxnID,
		"amount":      f.Amount,
		"productinfo": f.ProductInfo,
		"firstname":   f.FirstName,
		"email":       f.Email,
		"phone":       phone,
		"surl":        surl,
		"furl":        furl,
	}
	for i, v := range f.UDF {
		if v != "" {
			params["udf"+strconv.Itoa(i+1)] = v
		}
	}
	return WidgetBundle{
		Action: c.formHost() + "/_payment",
		Params: params,
		Hash:   c.Codec.RequestHash(f),
	}
}

// VerifyPayment performs the server-to-server verify_payment query for a
// transaction. A transport error or timeout yields an error, never a
// confirmed result.
func (c *Client) VerifyPayment(ctx context.Context, txnid string) (VerifyResult, error) {
	var zero VerifyResult
	if strings.TrimSpace(txnid) == "" {
		return zero, errors.New("payu: txnid is required")
	}
	if c.Breaker != nil && !c.Breaker.Allow(ctx) {
		return zero, ErrUnavailable
	}

	form := url.Values{}
	form.Set("key", c.Codec.Key)
	form.Set("command", verifyCommand)
	form.Set("var1", txnid)
	form.Set("hash", c.Codec.QueryHash(verifyCommand, txnid))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryHost()+"/merchant/postservice?form=2", strings.NewReader(form.Encode()))
	if err != nil {
		return zero, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient().Do(httpReq)
	c.observe("verify", start)
	if err != nil {
		c.report(ctx, false)
		return zero, fmt.Errorf("payu: verification request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.report(ctx, false)
		return zero, fmt.Errorf("payu: verification returned http %d", resp.StatusCode)
	}

	var decoded struct {
		Status             json.Number `json:"status"`
		Msg                string      `json:"msg"`
		TransactionDetails map[string]struct {
			Status       string `json:"status"`
			MihpayID     string `json:"mihpayid"`
			Amount       string `json:"amt"`
			ErrorMessage string `json:"error_Message"`
		} `json:"transaction_details"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		c.report(ctx, false)
		return zero, fmt.Errorf("payu: decode verification response: %w", err)
	}
	c.report(ctx, true)

	if decoded.Status.String() != "1" {
		return zero, fmt.Errorf("payu: verification declined: %s", decoded.Msg)
	}
	detail, ok := decoded.TransactionDetails[txnid]
	if !ok {
		return zero, fmt.Errorf("payu: verification response missing transaction %s", txnid)
	}

	result := VerifyResult{
		Status:         strings.ToLower(strings.TrimSpace(detail.Status)),
		ProviderTxnID:  detail.MihpayID,
		FailureMessage: detail.ErrorMessage,
	}
	result.Confirmed = result.Status == "success"
	if detail.Amount != "" {
		if minor, err := ParseAmount(detail.Amount); err == nil {
			result.AmountMinor = minor
		}
	}
	return result, nil
}

func (c *Client) report(ctx context.Context, success bool) {
	if c.Breaker != nil {
		c.Breaker.Report(ctx, success)
	}
}

func (c *Client) observe(operation string, start time.Time) {
	if obs.ProviderRequestDuration != nil {
		obs.ProviderRequestDuration.WithLabelValues(operation).Observe(obs.DurationMillis(time.Since(start)))
	}
}
