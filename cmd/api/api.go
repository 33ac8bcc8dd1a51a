package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lipia/internal/config"
	"lipia/internal/ledger"
	"lipia/internal/payments"
	"lipia/internal/ratelimiter"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const serviceName = "lipia-mpesa-relay"

type application struct {
	config      *config.Config
	logger      *zap.SugaredLogger
	gateway     payments.Gateway
	ledger      *ledger.Ledger
	rateLimiter ratelimiter.Limiter
	rlConfig    ratelimiter.Config
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Outbound Daraja calls have their own 30s client timeout; this caps the
	// whole request either way.
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(app.RateLimiterMiddleware)

	r.Get("/", app.healthCheckHandler)
	r.Get("/debug/vars", expvar.Handler().ServeHTTP)

	r.Route("/api/payments/mpesa", func(r chi.Router) {
		r.Post("/stkpush", app.stkPushHandler)
		r.Post("/callback", app.mpesaCallbackHandler)
		r.Get("/status/{checkoutRequestID}", app.paymentStatusHandler)
	})

	return r
}

func (app *application) run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         ":" + app.config.Port,
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	// Implementing graceful shutdown
	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", srv.Addr, "env", app.config.Env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Infow("server has stopped", "addr", srv.Addr, "env", app.config.Env)

	return nil
}
