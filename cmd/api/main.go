package main

import (
	"expvar"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"lipia/internal/config"
	"lipia/internal/ledger"
	"lipia/internal/payments"
	"lipia/internal/ratelimiter"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "1.0.0"

// LoadRateLimiterConfig retrieves rate limiter settings from environment variables
func LoadRateLimiterConfig() ratelimiter.Config {
	defaultRequests := 200
	defaultEnabled := false

	requestsPerTimeFrame := defaultRequests
	if val, exists := os.LookupEnv("RATELIMITER_REQUESTS_COUNT"); exists {
		if parsedVal, err := strconv.Atoi(val); err == nil {
			requestsPerTimeFrame = parsedVal
		} else {
			fmt.Println("Invalid RATELIMITER_REQUESTS_COUNT, defaulting to", defaultRequests)
		}
	}

	enabled := defaultEnabled
	if val, exists := os.LookupEnv("RATE_LIMITER_ENABLED"); exists {
		if parsedVal, err := strconv.ParseBool(val); err == nil {
			enabled = parsedVal
		} else {
			fmt.Println("Invalid RATE_LIMITER_ENABLED, defaulting to", defaultEnabled)
		}
	}

	return ratelimiter.Config{
		RequestsPerTimeFrame: requestsPerTimeFrame,
		TimeFrame:            5 * time.Second,
		Enabled:              enabled,
	}
}

// NewLogger creates a new zap logger with color.
func NewLogger() (*zap.SugaredLogger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	level := zapcore.InfoLevel

	core := zapcore.NewCore(consoleEncoder, zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout)), level)

	logger := zap.New(core)

	return logger.Sugar(), nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := NewLogger()
	if err != nil {
		fmt.Println("Error creating logger:", err)
		return
	}
	defer logger.Sync()

	// Gateway client. Credentials may still be absent here; that only fails
	// once an initiation is attempted.
	gateway := payments.NewDarajaAdapter(
		cfg.Mpesa.ConsumerKey,
		cfg.Mpesa.ConsumerSecret,
		cfg.Mpesa.ShortCode,
		cfg.Mpesa.Passkey,
		cfg.Mpesa.CallbackEndpoint(),
		cfg.Mpesa.IsProduction,
	)

	txLedger := ledger.New(cfg.Mpesa.LedgerTTL)
	if cfg.Mpesa.LedgerTTL > 0 {
		logger.Infow("ledger eviction enabled", "ttl", cfg.Mpesa.LedgerTTL.String())
	}

	rlConfig := LoadRateLimiterConfig()
	rateLimiter := ratelimiter.NewFixedWindowLimiter(
		rlConfig.RequestsPerTimeFrame,
		rlConfig.TimeFrame,
	)

	app := &application{
		config:      cfg,
		logger:      logger,
		gateway:     gateway,
		ledger:      txLedger,
		rateLimiter: rateLimiter,
		rlConfig:    rlConfig,
	}

	// Metrics collected at /debug/vars
	expvar.NewString("version").Set(version)
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))
	expvar.Publish("ledger_size", expvar.Func(func() any {
		return txLedger.Len()
	}))

	mux := app.mount()

	logger.Fatal(app.run(mux))
}
