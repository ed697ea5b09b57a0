package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcart "github.com/shopkit/checkout/internal/application/cart"
	appcheckout "github.com/shopkit/checkout/internal/application/checkout"
	apporder "github.com/shopkit/checkout/internal/application/order"
	apppayment "github.com/shopkit/checkout/internal/application/payment"
	appreaper "github.com/shopkit/checkout/internal/application/reaper"
	"github.com/shopkit/checkout/internal/config"
	domcart "github.com/shopkit/checkout/internal/domain/cart"
	domorder "github.com/shopkit/checkout/internal/domain/order"
	domoutbox "github.com/shopkit/checkout/internal/domain/outbox"
	dompayment "github.com/shopkit/checkout/internal/domain/payment"
	"github.com/shopkit/checkout/internal/domain/stock"
	"github.com/shopkit/checkout/internal/infrastructure/gateway"
	"github.com/shopkit/checkout/internal/infrastructure/gormstore"
	"github.com/shopkit/checkout/internal/infrastructure/id"
	kafkapub "github.com/shopkit/checkout/internal/infrastructure/kafka"
	"github.com/shopkit/checkout/internal/infrastructure/memory"
	"github.com/shopkit/checkout/internal/infrastructure/observability/oteltrace"
	"github.com/shopkit/checkout/internal/infrastructure/observability/prometrics"
	"github.com/shopkit/checkout/internal/infrastructure/observability/telemetry"
	"github.com/shopkit/checkout/internal/infrastructure/observability/zaplogger"
	"github.com/shopkit/checkout/internal/infrastructure/outbox"
	"github.com/shopkit/checkout/internal/infrastructure/rediscache"
	"github.com/shopkit/checkout/internal/observability"
	"github.com/shopkit/checkout/internal/pkg/keymutex"
	"github.com/shopkit/checkout/internal/pkg/logging"
	httppresentation "github.com/shopkit/checkout/internal/presentation/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.FromEnv()

	baseLogger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	tel := buildTelemetry(cfg, baseLogger)
	systemLogger := tel.Logger().With(observability.F("component", "main"))

	// Storage: MySQL when a DSN is configured, in-memory otherwise.
	var (
		orderRepo domorder.Repository
		cartRepo  domcart.Repository
		ledger    stock.Ledger
		attempts  dompayment.AttemptRepository
	)
	if cfg.MySQLDSN != "" {
		db, err := gormstore.Open(cfg.MySQLDSN)
		if err != nil {
			systemLogger.Error("mysql_open_failed", observability.F("error", err.Error()))
			os.Exit(1)
		}
		orderRepo = gormstore.NewOrderRepository(db)
		cartRepo = gormstore.NewCartRepository(db)
		ledger = gormstore.NewStockLedger(db)
		attempts = gormstore.NewAttemptRepository(db)
		systemLogger.Info("storage_selected", observability.F("backend", "mysql"))
	} else {
		orderRepo = memory.NewOrderRepository()
		cartRepo = memory.NewCartRepository()
		ledger = memory.NewStockLedger()
		attempts = memory.NewAttemptRepository()
		systemLogger.Info("storage_selected", observability.F("backend", "memory"))
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		cartRepo = rediscache.New(client, cartRepo, tel.Logger())
		systemLogger.Info("cart_cache_enabled", observability.F("addr", cfg.RedisAddr))
	}

	catalog := memory.NewCatalog(ledger)

	// In-memory event bus, optionally mirrored to Kafka.
	bus := outbox.NewBus(tel.Logger())
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	var publisher domoutbox.Publisher = bus
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafkapub.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, tel.Logger())
		defer func() { _ = kp.Close() }()
		publisher = outbox.Fanout(bus, kp)
		systemLogger.Info("kafka_export_enabled",
			observability.F("brokers", cfg.KafkaBrokers),
			observability.F("topic", cfg.KafkaTopic),
		)
	}

	idGenerator := id.NewUUIDGenerator()
	locks := keymutex.New()

	orderService := apporder.NewService(orderRepo, ledger, publisher, locks, tel)
	cartService := appcart.NewService(cartRepo, catalog, tel)
	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayTimeout, tel)
	checkoutUC := appcheckout.NewUseCase(
		cartRepo, catalog, ledger, orderRepo, attempts, gatewayClient,
		orderService, idGenerator, publisher,
		cfg.Currency, cfg.PaymentWindow, tel,
	)
	verifyUC := apppayment.NewVerifyUseCase(
		orderRepo, attempts, orderService,
		dompayment.NewSigner(cfg.GatewaySecret), idGenerator, tel,
	)

	// Re-derive ledger state before accepting traffic; a crash between a
	// reservation effect and a status write leaves work for this pass.
	if err := orderService.Repair(context.Background()); err != nil {
		systemLogger.Error("startup_repair_failed", observability.F("error", err.Error()))
		os.Exit(1)
	}

	auditWorker := apporder.NewAuditWorker(bus, tel)
	auditWorker.Start()

	reaper := appreaper.New(orderRepo, orderService, cfg.ReaperInterval, cfg.ReaperBatch, tel)
	reaper.Start(context.Background())
	defer reaper.Stop()

	handler := httppresentation.NewHandler(
		cartService, checkoutUC, verifyUC, orderService,
		attempts, ledger, catalog, cfg.AdminToken, tel,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		systemLogger.Info("http_server_start", observability.F("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error", observability.F("error", err.Error()))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", observability.F("error", err.Error()))
	} else {
		systemLogger.Info("http_server_stopped")
	}
}

func buildTelemetry(cfg config.Config, baseLogger *zap.Logger) observability.Observability {
	tracer := oteltrace.New(cfg.ServiceName)
	logger := zaplogger.Wrap(baseLogger)
	reg := prometrics.New("", "")

	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: reg.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: reg.Counter(
			string(observability.MHTTPRequests),
			"Total number of HTTP requests.",
			"method", "route", "status",
		),
		observability.MExternalRequests: reg.Counter(
			string(observability.MExternalRequests),
			"Total number of outbound calls to collaborators.",
			"peer", "endpoint", "outcome",
		),
		observability.MOrderLifecycleEvents: reg.Counter(
			string(observability.MOrderLifecycleEvents),
			"Order lifecycle events observed on the bus.",
			"event", "status",
		),
		observability.MStockReservations: reg.Counter(
			string(observability.MStockReservations),
			"Reservation state changes recorded in the stock ledger.",
			"state",
		),
		observability.MReaperExpiredOrders: reg.Counter(
			string(observability.MReaperExpiredOrders),
			"Orders expired by the reconciliation reaper.",
		),
		observability.MSignatureFailures: reg.Counter(
			string(observability.MSignatureFailures),
			"Payment verifications rejected for an invalid signature.",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: reg.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			nil,
			"use_case",
		),
		observability.MHTTPRequestDuration: reg.Histogram(
			string(observability.MHTTPRequestDuration),
			"Duration of HTTP requests in seconds.",
			nil,
			"method", "route", "status",
		),
		observability.MExternalRequestDuration: reg.Histogram(
			string(observability.MExternalRequestDuration),
			"Duration of outbound calls in seconds.",
			nil,
			"peer", "endpoint",
		),
	}

	return telemetry.New(tracer, logger, counters, histograms)
}
