package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"lipia/internal/ledger"
	"lipia/internal/payments"
	"lipia/internal/phone"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type stkPushPayload struct {
	BookingID        string  `json:"bookingId"`
	Phone            string  `json:"phone" validate:"required"`
	Amount           float64 `json:"amount" validate:"required_without=AmountKes"`
	AmountKes        float64 `json:"amountKes"`
	AccountReference string  `json:"accountReference"`
	TransactionDesc  string  `json:"transactionDesc"`
}

// POST /api/payments/mpesa/stkpush
func (app *application) stkPushHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload stkPushPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	amount := payload.Amount
	if amount == 0 {
		amount = payload.AmountKes
	}

	bookingID := payload.BookingID
	if bookingID == "" {
		bookingID = uuid.NewString()
	}

	msisdn := phone.Normalize(payload.Phone)

	accountRef := payload.AccountReference
	if accountRef == "" {
		accountRef = bookingID
	}
	desc := payload.TransactionDesc
	if desc == "" {
		desc = "Payment"
	}

	token, err := app.gateway.AcquireToken(ctx)
	if err != nil {
		app.initiationErrorResponse(w, r, err)
		return
	}

	resp, err := app.gateway.InitiateSTKPush(ctx, token, payments.STKPushRequest{
		Phone:            msisdn,
		Amount:           amount,
		AccountReference: accountRef,
		TransactionDesc:  desc,
	})
	if err != nil {
		app.initiationErrorResponse(w, r, err)
		return
	}

	// A record exists iff Daraja issued a request id; without one there is
	// nothing a callback or status poll could ever correlate.
	if resp.CheckoutRequestID != "" {
		app.ledger.Insert(resp.CheckoutRequestID, ledger.Transaction{
			BookingID:     bookingID,
			Phone:         msisdn,
			Amount:        amount,
			RawInitiation: resp.Raw,
		})
		app.logger.Infow("stk push initiated",
			"checkout_request_id", resp.CheckoutRequestID,
			"booking_id", bookingID,
			"phone", msisdn,
			"amount", amount,
		)
	} else {
		app.logger.Warnw("gateway response carried no CheckoutRequestID", "body", string(resp.Raw))
	}

	// Forward the gateway's fields under their native names, plus ours.
	out := map[string]any{}
	if len(resp.Raw) > 0 {
		_ = json.Unmarshal(resp.Raw, &out)
	}
	out["ok"] = true
	out["bookingId"] = bookingID

	writeJSON(w, http.StatusOK, out)
}

func (app *application) initiationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var gwErr *payments.GatewayError
	if errors.As(err, &gwErr) {
		app.gatewayErrorResponse(w, r, gwErr)
		return
	}
	// ConfigError and anything unexpected: the message itself (e.g. which
	// variable is missing) is the diagnostic.
	app.internalServerError(w, r, err)
}

// POST /api/payments/mpesa/callback
//
// Daraja re-delivers callbacks it considers unacknowledged, so this handler
// must answer the accept envelope no matter what happened internally. Parse
// failures, unknown ids and rejected tokens are logged and swallowed.
func (app *application) mpesaCallbackHandler(w http.ResponseWriter, r *http.Request) {
	defer app.acknowledgeCallback(w)

	if secret := app.config.Mpesa.CallbackSecret; secret != "" {
		if r.URL.Query().Get("token") != secret {
			app.logger.Warnw("callback token mismatch", "ip", r.RemoteAddr)
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_578))
	if err != nil {
		app.logger.Warnw("callback body unreadable", "error", err.Error())
		return
	}

	var env payments.CallbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		app.logger.Warnw("callback payload not parseable", "error", err.Error(), "body", string(body))
		return
	}

	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		app.logger.Warnw("callback without CheckoutRequestID", "body", string(body))
		return
	}

	applied := app.ledger.ApplyCallbackResult(cb.CheckoutRequestID, ledger.CallbackResult{
		ResultCode: cb.ResultCode,
		ResultDesc: cb.ResultDesc,
		Receipt:    cb.Receipt(),
		Amount:     cb.Amount(),
		Phone:      cb.Phone(),
		Raw:        body,
	})
	if !applied {
		// unknown or already-evicted transaction; dropped, not queued
		app.logger.Infow("callback for unknown checkout request id", "checkout_request_id", cb.CheckoutRequestID)
		return
	}

	app.logger.Infow("callback applied",
		"checkout_request_id", cb.CheckoutRequestID,
		"result_code", cb.ResultCode,
		"result_desc", cb.ResultDesc,
	)
}

// acknowledgeCallback answers the accept envelope Daraja expects; anything
// else makes the gateway re-deliver the same callback indefinitely.
func (app *application) acknowledgeCallback(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

// GET /api/payments/mpesa/status/{checkoutRequestID}
func (app *application) paymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkoutRequestID")

	tx, ok := app.ledger.Get(id)
	if !ok {
		app.notFoundResponse(w, r, fmt.Errorf("unknown checkout request id %s", id))
		return
	}

	out := map[string]any{}
	b, _ := json.Marshal(tx)
	_ = json.Unmarshal(b, &out)
	out["ok"] = true
	out["requestId"] = id

	writeJSON(w, http.StatusOK, out)
}
