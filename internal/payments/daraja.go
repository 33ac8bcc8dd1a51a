package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// DarajaAdapter talks to Safaricom's Daraja API: OAuth token endpoint plus the
// Lipa na M-Pesa Online (STK push) process-request endpoint.
type DarajaAdapter struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	IsProduction   bool
	// BaseURL overrides the sandbox/production hosts; tests point it at a stub.
	BaseURL    string
	httpClient *http.Client
}

func NewDarajaAdapter(consumerKey, consumerSecret, shortCode, passkey, callbackURL string, isProd bool) *DarajaAdapter {
	return &DarajaAdapter{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		ShortCode:      shortCode,
		Passkey:        passkey,
		CallbackURL:    callbackURL,
		IsProduction:   isProd,
		// single attempt, bounded; a stalled Daraja must not pin a worker
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *DarajaAdapter) baseURL() string {
	if d.BaseURL != "" {
		return d.BaseURL
	}
	if d.IsProduction {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}

// AcquireToken exchanges the consumer key/secret for a short-lived bearer
// token. Called once per initiation; Daraja tokens are cheap and caching them
// buys little at sandbox volumes.
func (d *DarajaAdapter) AcquireToken(ctx context.Context) (string, error) {
	if d.ConsumerKey == "" || d.ConsumerSecret == "" {
		return "", &ConfigError{Field: "MPESA_CONSUMER_KEY/MPESA_CONSUMER_SECRET"}
	}

	url := d.baseURL() + "/oauth/v1/generate?grant_type=client_credentials"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("daraja token request: %w", err)
	}
	httpReq.SetBasicAuth(d.ConsumerKey, d.ConsumerSecret)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return "", &GatewayError{Op: "oauth", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", &GatewayError{Op: "oauth", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("daraja token decode: %w body=%s", err, string(raw))
	}
	if res.AccessToken == "" {
		return "", &GatewayError{Op: "oauth", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	return res.AccessToken, nil
}

// InitiateSTKPush submits a payment prompt for the given phone and amount.
// The password field is base64(shortcode + passkey + timestamp) with the
// timestamp in YYYYMMDDHHmmss wall-clock form, per the Daraja docs.
func (d *DarajaAdapter) InitiateSTKPush(ctx context.Context, token string, req STKPushRequest) (*STKPushResponse, error) {
	if d.Passkey == "" {
		return nil, &ConfigError{Field: "MPESA_PASSKEY"}
	}
	if d.CallbackURL == "" {
		return nil, &ConfigError{Field: "MPESA_CALLBACK_URL"}
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(d.ShortCode + d.Passkey + timestamp))

	// Daraja takes whole shillings only.
	payload := map[string]any{
		"BusinessShortCode": d.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int(math.Round(req.Amount)),
		"PartyA":            req.Phone,
		"PartyB":            d.ShortCode,
		"PhoneNumber":       req.Phone,
		"CallBackURL":       d.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.TransactionDesc,
	}

	body, _ := json.Marshal(payload)

	url := d.baseURL() + "/mpesa/stkpush/v1/processrequest"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("daraja stkpush request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{Op: "stkpush", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &GatewayError{Op: "stkpush", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var res STKPushResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("daraja stkpush decode: %w body=%s", err, string(raw))
	}
	res.Raw = raw

	return &res, nil
}
