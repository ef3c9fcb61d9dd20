package main

import (
	"community_fed/dal"
	"community_fed/logic"
	"community_fed/server"
	"community_fed/shared"
	"context"
	"fmt"
	"github.com/charmbracelet/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"io"
	"net/http"
	"os"
)

type initErrorHandler struct {
}

func (*initErrorHandler) HandleError(err error) {
	fmt.Fprintf(os.Stderr, "Failed to initialize dependency injection\n%v", err)
}

var logger *log.Logger

func main() {

	cfg := shared.LoadConfig()
	provideConfig := func() *shared.Config {
		return cfg
	}

	logger = initLogger(cfg)
	provideLogger := func() shared.ILogger {
		return logger
	}

	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			provideConfig,
			provideLogger,
			server.NewHTTPServer,
			fx.Annotate(server.NewMux, fx.ParamTags(`group:"handler_group"`)),
			shared.NewHttpClient,
			shared.NewUserAgent,
			logic.NewMetrics,
			logic.NewKeyStore,
			logic.NewActorCache,
			logic.NewActorResolver,
			func(resolver logic.IActorResolver) logic.IKeyProvider { return resolver },
			logic.NewHttpSigChecker,
			logic.NewActivityValidator,
			logic.NewActivitySender,
			logic.NewDelivery,
			logic.NewInbox,
			logic.NewOutbox,
			logic.NewUserDirectory,
			logic.NewHousekeeping,
			dal.NewRepo,
			asHandlerGroupDef(server.NewApubHandlerGroup),
			asHandlerGroupDef(server.NewApiHandlerGroup),
			asHandlerGroupDef(server.NewMetricsHandlerGroup),
		),
		fx.Invoke(
			registerHooks,
			func(repo dal.IRepo) { repo.InitUpdateDb() },
			registerTracer,
			registerBackgroundWork,
			func(*http.Server) {},
		),
		fx.ErrorHook(&initErrorHandler{}),
	)
	app.Run()
}

func asHandlerGroupDef(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(server.IHandlerGroup)),
		fx.ResultTags(`group:"handler_group"`),
	)
}

func initLogger(cfg *shared.Config) *log.Logger {

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
		if err != nil {
			msg := fmt.Sprintf("Failed to open log file '%v': %v", cfg.LogFile, err)
			log.Fatal(msg)
		}
		out = io.MultiWriter(os.Stdout, logFile)
	}

	logger := log.New(out)
	logger.SetReportTimestamp(true)
	logger.SetTimeFormat("2006-01-02 15:04:05.000")
	switch cfg.LogLevel {
	case "Debug":
		logger.SetLevel(log.DebugLevel)
	case "Info":
		logger.SetLevel(log.InfoLevel)
	case "Warn":
		logger.SetLevel(log.WarnLevel)
	case "Error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.ErrorLevel)
	}
	logger.SetReportCaller(true)

	return logger
}

func registerHooks(lc fx.Lifecycle, metrics logic.IMetrics) {
	lc.Append(
		fx.Hook{
			OnStart: func(context.Context) error {
				logger.Printf("Application starting up")
				metrics.ServiceStarted()
				return nil
			},
			OnStop: func(context.Context) error {
				logger.Printf("Application shutting down")
				return nil
			},
		},
	)
}

func registerTracer(lc fx.Lifecycle, cfg *shared.Config) {
	var tp *sdktrace.TracerProvider
	lc.Append(
		fx.Hook{
			OnStart: func(ctx context.Context) error {
				var err error
				if tp, err = shared.InitTracer(ctx, cfg); err != nil {
					return err
				}
				if tp != nil {
					logger.Printf("Exporting traces to %s", cfg.OtelEndpoint)
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if tp == nil {
					return nil
				}
				return tp.Shutdown(ctx)
			},
		},
	)
}

// Deliveries still in flight get the shutdown timeout to finish.
func registerBackgroundWork(lc fx.Lifecycle, hk logic.IHousekeeping, delivery logic.IDelivery) {
	lc.Append(
		fx.Hook{
			OnStart: func(context.Context) error {
				hk.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				hk.Stop()
				if err := delivery.Shutdown(ctx); err != nil {
					logger.Warnf("Deliveries still pending at shutdown: %v", err)
				}
				return nil
			},
		},
	)
}
