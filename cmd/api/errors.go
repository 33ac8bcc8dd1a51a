package main

import (
	"net/http"

	"lipia/internal/payments"
)

func (app *application) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("bad request", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusBadRequest, err.Error())
}

func (app *application) internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Errorw("internal error", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func (app *application) notFoundResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("not found", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	writeJSONError(w, http.StatusNotFound, "Not found")
}

// gatewayErrorResponse forwards the upstream failure payload so sandbox
// integrators can see what Daraja rejected.
func (app *application) gatewayErrorResponse(w http.ResponseWriter, r *http.Request, gwErr *payments.GatewayError) {
	app.logger.Errorw("gateway call failed",
		"op", gwErr.Op,
		"status", gwErr.StatusCode,
		"error", gwErr.Error(),
	)

	details := gwErr.Body
	if details == "" && gwErr.Err != nil {
		details = gwErr.Err.Error()
	}

	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"ok":      false,
		"error":   "payment initiation failed",
		"details": details,
	})
}

func (app *application) rateLimitExceededResponse(w http.ResponseWriter, r *http.Request, retryAfter string) {
	app.logger.Warnw("rate limit exceeded", "path", r.URL.Path, "ip", r.RemoteAddr)

	w.Header().Set("Retry-After", retryAfter)
	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded, retry after: "+retryAfter)
}
