// Command control-plane is the Helios Agent Control Plane server: it opens
// the BoltDB store, starts the device-sync and agent-ping background jobs,
// and serves the REST/websocket gateway until it receives SIGTERM/SIGINT.
// Process structure — signal.NotifyContext, open store before anything else,
// serve HTTP in its own goroutine, shut it down on ctx.Done — is grounded on
// the teacher's cmd/sentinel/main.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/helios-home/control-plane/internal/acm"
	"github.com/helios-home/control-plane/internal/clock"
	"github.com/helios-home/control-plane/internal/config"
	"github.com/helios-home/control-plane/internal/logging"
	"github.com/helios-home/control-plane/internal/metrics"
	"github.com/helios-home/control-plane/internal/routerapi"
	"github.com/helios-home/control-plane/internal/scheduler"
	"github.com/helios-home/control-plane/internal/store"
	"github.com/helios-home/control-plane/internal/usecase"
	"github.com/helios-home/control-plane/internal/web"
)

// version is set at build time via -X main.version=$(VERSION).
var version = "dev"

// agentPingInterval is how often the scheduler broadcasts a liveness ping to
// every connected agent (spec.md §5.3). Unlike DeviceScanDelay this isn't
// operator-tunable: it's a property of the wire protocol, not the router
// integration.
const agentPingInterval = 15 * time.Second

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogJSON)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	fmt.Println("Helios Agent Control Plane " + version)
	fmt.Println("=============================================")
	fmt.Printf("API_LISTEN_ADDRESS=%s\n", cfg.ListenAddress)
	fmt.Printf("API_LISTEN_PORT=%d\n", cfg.ListenPort)
	fmt.Printf("API_ROUTER_API_KIND=%s\n", cfg.RouterAPIKind)
	fmt.Printf("API_DATABASE_URL=%s\n", cfg.DatabaseURL)
	fmt.Printf("API_SCANNING_DEVICE_SCAN_DELAY=%s\n", cfg.DeviceScanDelay)
	fmt.Printf("API_SCANNING_DEVICE_SCAN_CRON_EXPR=%s\n", cfg.DeviceScanCronExpr)
	fmt.Printf("API_METRICS_ENABLED=%t\n", cfg.MetricsEnabled)
	fmt.Printf("API_METRICS_TEXTFILE_PATH=%s\n", cfg.MetricsTextfilePath)
	fmt.Println("=============================================")

	db, err := store.Open(dbPath(cfg.DatabaseURL))
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	servicesRepo := store.NewServicesRepo()
	devicesRepo := store.NewDevicesRepo()

	router, err := newRouterAPI(cfg)
	if err != nil {
		log.Error("failed to build router API client", "error", err)
		os.Exit(1)
	}

	mgr := acm.New()

	deps := web.Dependencies{
		CreateService: usecase.NewCreateService(servicesRepo, db, log),
		GenerateInstallScript: usecase.NewGenerateInstallScript(servicesRepo, db, usecase.InstallScriptConfig{
			HelloWorldDownloadBaseURL:  cfg.HelloWorldDownloadBaseURL,
			HelloWorld2DownloadBaseURL: cfg.HelloWorld2DownloadBaseURL,
			HeliosBaseURL:              cfg.BaseURL,
		}, log),
		ListDevices:          usecase.NewListDevices(devicesRepo, servicesRepo, db),
		ListServices:         usecase.NewListServices(servicesRepo, db),
		ListServiceTemplates: usecase.NewListServiceTemplates(),
		FetchNetworkStatus:   usecase.NewFetchNetworkStatus(router),
		ServicesRepo:         servicesRepo,
		UoW:                  db,
		ACM:                  mgr,
		MetricsEnabled:       cfg.MetricsEnabled,
		Log:                  log,
		ShutdownCtx:          ctx,
	}
	srv := web.New(deps)

	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.ListenAddress, fmt.Sprint(cfg.ListenPort)),
		Handler: srv,
	}

	go func() {
		log.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = httpServer.Shutdown(shutCtx)
	}()

	syncDevices := usecase.NewSyncDevices(devicesRepo, db, router, log)
	syncExecute := syncDevices.Execute
	if cfg.MetricsTextfilePath != "" {
		textfilePath := cfg.MetricsTextfilePath
		syncExecute = func(ctx context.Context) error {
			err := syncDevices.Execute(ctx)
			if writeErr := metrics.WriteTextfile(textfilePath); writeErr != nil {
				log.Warn("failed to write metrics textfile", "path", textfilePath, "error", writeErr)
			}
			return err
		}
	}

	scanJob, err := newDeviceScanJob(cfg, syncDevices.Name(), syncExecute)
	if err != nil {
		log.Error("failed to build device scan job", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(clock.Real{}, log,
		scanJob,
		scheduler.NewIntervalJob("AgentPing", agentPingInterval, func(context.Context) error {
			mgr.Broadcast(acm.Event{Kind: acm.EventPing})
			return nil
		}),
	)

	log.Info("control plane started", "version", version)
	if err := sched.Run(ctx); err != nil {
		log.Error("control plane exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("control plane shutdown complete")
}

// dbPath accepts either a bare filesystem path or a "file:" URL (the latter
// is how the BoltDB path arrives in config.NewTestConfig's in-memory-style
// default), since Bolt itself understands only a plain path.
func dbPath(databaseURL string) string {
	return strings.TrimPrefix(databaseURL, "file:")
}

// newDeviceScanJob builds the device-scan job on the operator's configured
// cadence: a cron schedule if API_SCANNING_DEVICE_SCAN_CRON_EXPR is set,
// otherwise the plain API_SCANNING_DEVICE_SCAN_DELAY interval. config.Validate
// has already checked the cron expression parses, so a failure here would
// mean that check was skipped.
func newDeviceScanJob(cfg *config.Config, name string, execute func(context.Context) error) (scheduler.Job, error) {
	if cfg.DeviceScanCronExpr != "" {
		return scheduler.NewCronJob(name, cfg.DeviceScanCronExpr, execute)
	}
	return scheduler.NewIntervalJob(name, cfg.DeviceScanDelay, execute), nil
}

// newRouterAPI constructs the configured router API client. config.Validate
// already rejects any RouterAPIKind other than "bbox", so the default case
// here is unreachable in practice.
func newRouterAPI(cfg *config.Config) (routerapi.API, error) {
	switch cfg.RouterAPIKind {
	case "bbox":
		return routerapi.NewBboxClient(cfg.RouterAPIBaseURL, cfg.RouterAPIPassword)
	default:
		return nil, fmt.Errorf("unsupported router API kind %q", cfg.RouterAPIKind)
	}
}
