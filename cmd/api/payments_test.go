package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lipia/internal/config"
	"lipia/internal/ledger"
	"lipia/internal/payments"
	"lipia/internal/ratelimiter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubDaraja runs an httptest server answering the token and stkpush
// endpoints the way the sandbox does.
func stubDaraja(t *testing.T, stkStatus int, stkBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"token-abc","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(stkStatus)
		w.Write([]byte(stkBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, gateway payments.Gateway) *application {
	t.Helper()
	l := ledger.New(0)
	t.Cleanup(l.Close)
	return &application{
		config:  &config.Config{Port: "0", Mpesa: config.MpesaConfig{ShortCode: "174379"}},
		logger:  zap.NewNop().Sugar(),
		gateway: gateway,
		ledger:  l,
		rlConfig: ratelimiter.Config{
			Enabled: false,
		},
	}
}

func adapterFor(srv *httptest.Server) *payments.DarajaAdapter {
	d := payments.NewDarajaAdapter("key", "secret", "174379", "passkey", "https://relay.example.com/api/payments/mpesa/callback", false)
	d.BaseURL = srv.URL
	return d
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body == "" {
		rdr = bytes.NewReader(nil)
	} else {
		rdr = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthCheck(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doJSON(t, app.mount(), http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, serviceName, body["service"])
}

func TestStkPushMissingPhone(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doJSON(t, app.mount(), http.MethodPost, "/api/payments/mpesa/stkpush", `{"amount":10}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Contains(t, body["error"], "Phone")
}

func TestStkPushMissingAmount(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doJSON(t, app.mount(), http.MethodPost, "/api/payments/mpesa/stkpush", `{"phone":"0712345678"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "Amount")
}

func TestStkPushAmountKesAccepted(t *testing.T) {
	srv := stubDaraja(t, http.StatusOK, `{"CheckoutRequestID":"ws_kes","ResponseCode":"0"}`)
	app := newTestApp(t, adapterFor(srv))

	rec := doJSON(t, app.mount(), http.MethodPost, "/api/payments/mpesa/stkpush", `{"phone":"0712345678","amountKes":55}`)
	require.Equal(t, http.StatusOK, rec.Code)

	tx, ok := app.ledger.Get("ws_kes")
	require.True(t, ok)
	assert.Equal(t, float64(55), tx.Amount)
}

func TestStkPushMissingPasskeyConfig(t *testing.T) {
	srv := stubDaraja(t, http.StatusOK, `{}`)
	d := payments.NewDarajaAdapter("key", "secret", "174379", "", "https://cb", false)
	d.BaseURL = srv.URL
	app := newTestApp(t, d)

	rec := doJSON(t, app.mount(), http.MethodPost, "/api/payments/mpesa/stkpush", `{"phone":"0712345678","amount":10}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "MPESA_PASSKEY")
}

func TestStkPushMissingCallbackURLConfig(t *testing.T) {
	srv := stubDaraja(t, http.StatusOK, `{}`)
	d := payments.NewDarajaAdapter("key", "secret", "174379", "passkey", "", false)
	d.BaseURL = srv.URL
	app := newTestApp(t, d)

	rec := doJSON(t, app.mount(), http.MethodPost, "/api/payments/mpesa/stkpush", `{"phone":"0712345678","amount":10}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "MPESA_CALLBACK_URL")
	// distinguishable from the passkey case
	assert.NotContains(t, body["error"], "MPESA_PASSKEY")
}

func TestStkPushGatewayFailure(t *testing.T) {
	srv := stubDaraja(t, http.StatusServiceUnavailable, `{"errorMessage":"Spike arrest violation"}`)
	app := newTestApp(t, adapterFor(srv))

	rec := doJSON(t, app.mount(), http.MethodPost, "/api/payments/mpesa/stkpush", `{"phone":"0712345678","amount":10}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "payment initiation failed", body["error"])
	assert.Contains(t, body["details"], "Spike arrest violation")
	// nothing to track without a request id
	assert.Equal(t, 0, app.ledger.Len())
}

func TestInitiateCallbackStatusFlow(t *testing.T) {
	srv := stubDaraja(t, http.StatusOK,
		`{"MerchantRequestID":"29115-1","CheckoutRequestID":"ws_1","ResponseCode":"0","ResponseDescription":"Success","CustomerMessage":"Success"}`)
	app := newTestApp(t, adapterFor(srv))
	mux := app.mount()

	// initiate
	rec := doJSON(t, mux, http.MethodPost, "/api/payments/mpesa/stkpush",
		`{"phone":"0712345678","amount":10,"bookingId":"bk-9"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "bk-9", body["bookingId"])
	assert.Equal(t, "ws_1", body["CheckoutRequestID"])

	tx, ok := app.ledger.Get("ws_1")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusPending, tx.Status)
	assert.Equal(t, "254712345678", tx.Phone)
	assert.Equal(t, float64(10), tx.Amount)

	// gateway posts the result callback
	rec = doJSON(t, mux, http.MethodPost, "/api/payments/mpesa/callback",
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_1","ResultCode":0,"ResultDesc":"ok",
		  "CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"R123"}]}}}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(0), body["ResultCode"])
	assert.Equal(t, "Accepted", body["ResultDesc"])

	tx, ok = app.ledger.Get("ws_1")
	require.True(t, ok)
	assert.Equal(t, ledger.StatusSuccess, tx.Status)
	require.NotNil(t, tx.Receipt)
	assert.Equal(t, "R123", *tx.Receipt)

	// client polls
	rec = doJSON(t, mux, http.MethodGet, "/api/payments/mpesa/status/ws_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "ws_1", body["requestId"])
	assert.Equal(t, "SUCCESS", body["status"])
	assert.Equal(t, "R123", body["receipt"])

	// unknown id
	rec = doJSON(t, mux, http.MethodGet, "/api/payments/mpesa/status/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "Not found", body["error"])
}

func TestCallbackUnknownIDStillAccepted(t *testing.T) {
	app := newTestApp(t, nil)
	mux := app.mount()

	rec := doJSON(t, mux, http.MethodPost, "/api/payments/mpesa/callback",
		`{"Body":{"stkCallback":{"CheckoutRequestID":"never-issued","ResultCode":0}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["ResultCode"])
	assert.Equal(t, 0, app.ledger.Len())
}

func TestCallbackGarbageStillAccepted(t *testing.T) {
	app := newTestApp(t, nil)

	rec := doJSON(t, app.mount(), http.MethodPost, "/api/payments/mpesa/callback", `this is not json`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Accepted", body["ResultDesc"])
}

func TestCallbackTokenCheck(t *testing.T) {
	app := newTestApp(t, nil)
	app.config.Mpesa.CallbackSecret = "s3cret"
	app.ledger.Insert("ws_2", ledger.Transaction{Amount: 10})
	mux := app.mount()

	payload := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_2","ResultCode":0}}}`

	// wrong token: acknowledged but not applied
	rec := doJSON(t, mux, http.MethodPost, "/api/payments/mpesa/callback?token=wrong", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	tx, _ := app.ledger.Get("ws_2")
	assert.Equal(t, ledger.StatusPending, tx.Status)

	// right token: applied
	rec = doJSON(t, mux, http.MethodPost, "/api/payments/mpesa/callback?token=s3cret", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	tx, _ = app.ledger.Get("ws_2")
	assert.Equal(t, ledger.StatusSuccess, tx.Status)
}

func TestDuplicateCallbackOverwrites(t *testing.T) {
	app := newTestApp(t, nil)
	app.ledger.Insert("ws_3", ledger.Transaction{Amount: 10})
	mux := app.mount()

	doJSON(t, mux, http.MethodPost, "/api/payments/mpesa/callback",
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_3","ResultCode":0}}}`)
	doJSON(t, mux, http.MethodPost, "/api/payments/mpesa/callback",
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_3","ResultCode":1037,"ResultDesc":"DS timeout"}}}`)

	tx, _ := app.ledger.Get("ws_3")
	assert.Equal(t, ledger.StatusFailed, tx.Status)
}
