package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"transitcal/internal/config"
	"transitcal/internal/dayplan"
	"transitcal/internal/ics"
	appLog "transitcal/internal/log"
	"transitcal/internal/model"
	"transitcal/internal/pipeline"
	"transitcal/internal/stops"
	"transitcal/internal/tracing"
	"transitcal/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	geocode    string
	routeFrom  string
	routeTo    string
	arrive     string
}

func main() {
	flags := parseFlags()

	if err := config.LoadEnvFiles(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envFile)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.Getenv)
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("transitcal starting",
		"version", version,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"geocoder", conf.Geocoder.Strategy,
		"planner", conf.Planner.Strategy,
		"ics_count", len(conf.ICS),
		"horizon_days", conf.HorizonDays,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	shutdownTracing, err := tracing.Init(ctx, conf.Tracing)
	if err != nil {
		appLog.Error("tracing setup failed", err)
	}
	defer shutdownTracing(context.Background())

	svc := buildServices(conf)
	stopFinder := stops.NewClient(stops.Options{BaseURL: conf.Stops.URL, APIKey: conf.Stops.APIKey})

	switch {
	case flags.geocode != "":
		err = runGeocode(ctx, os.Stdout, svc, stopFinder, flags.geocode)
	case flags.routeFrom != "" || flags.routeTo != "":
		err = runRoute(ctx, os.Stdout, conf, svc, flags)
	case flags.once:
		_, err = newPipeline(conf, svc).Run(ctx)
	default:
		err = serve(ctx, conf, svc, stopFinder)
	}
	if err != nil {
		appLog.Error("transitcal failed", err)
		shutdownTracing(context.Background())
		os.Exit(1)
	}
	appLog.Info("transitcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file (created with defaults if missing)")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional dotenv file loaded before the config")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+plan cycle, write the output calendar and exit")
	flag.StringVar(&cfg.geocode, "geocode", "", "Geocode ADDRESS, show the nearest stop and its departures, then exit")
	flag.StringVar(&cfg.routeFrom, "route", "", "Plan a trip from this location (requires -to)")
	flag.StringVar(&cfg.routeTo, "to", "", "Destination for -route")
	flag.StringVar(&cfg.arrive, "arrive", "", "Arrival time for -route (default: 30 minutes from now)")

	flag.Parse()
	return cfg
}

func newPipeline(conf *config.Config, svc *services) *pipeline.Pipeline {
	return pipeline.New(conf, ics.NewFetcher(conf.CacheDir), svc.day)
}

func runGeocode(ctx context.Context, out io.Writer, svc *services, finder *stops.Client, address string) error {
	c, err := svc.geocoder.Geocode(ctx, address)
	if err != nil {
		return fmt.Errorf("geocode %q: %w", address, err)
	}
	fmt.Fprintf(out, "%s\n  lat %.6f\n  lon %.6f\n", address, c.Lat, c.Lon)

	stop, km, err := finder.Nearest(ctx, c)
	if err != nil {
		appLog.Warn("nearest stop unavailable", "err", err)
		return nil
	}
	fmt.Fprintf(out, "Nearest stop: %s (ID %s, %.2f km)\n", stop.Name, stop.ID, km)

	deps, err := finder.Predictions(ctx, stop.ID)
	if err != nil {
		appLog.Warn("stop predictions unavailable", "err", err)
		return nil
	}
	if len(deps) == 0 {
		fmt.Fprintln(out, "No departures predicted for this stop.")
		return nil
	}
	for i, d := range deps {
		if i == 5 {
			break
		}
		when := "unknown time"
		if t := d.When(); !t.IsZero() {
			when = t.Format("15:04")
		}
		fmt.Fprintf(out, "  %d. Route %s to %s at %s\n", i+1, d.ServiceID, d.Destination, when)
	}
	return nil
}

func runRoute(ctx context.Context, out io.Writer, conf *config.Config, svc *services, flags flagConfig) error {
	if flags.routeFrom == "" || flags.routeTo == "" {
		return errors.New("-route and -to must be given together")
	}
	loc := conf.Location()
	arrival, err := parseArrival(flags.arrive, time.Now(), loc)
	if err != nil {
		return err
	}

	origin := model.Event{Summary: "Start", Location: flags.routeFrom, TimeZone: conf.Timezone}
	dest := model.Event{Summary: "Destination", Location: flags.routeTo, Start: arrival, TimeZone: conf.Timezone}

	info := svc.routes.PlanRouteBetween(ctx, origin, dest)
	if info == nil {
		return fmt.Errorf("no route from %q to %q", flags.routeFrom, flags.routeTo)
	}
	te := dayplan.Render(info, conf.Timezone, loc)
	fmt.Fprintf(out, "%s\n%s - %s\n\n%s", te.Summary, te.Start.Format("15:04"), te.End.Format("15:04"), te.Description)
	return nil
}

// serve plans once at startup, replans on the cron schedule and serves the
// API until ctx is cancelled.
func serve(ctx context.Context, conf *config.Config, svc *services, finder *stops.Client) error {
	pl := newPipeline(conf, svc)

	c := cron.New(cron.WithLocation(conf.Location()))
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		if _, err := pl.Run(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", conf.RefreshCron, err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	go func() {
		if _, err := pl.Run(ctx); err != nil {
			appLog.Error("initial refresh failed", err)
		}
	}()

	srv := web.NewServer(conf, web.Deps{
		Routes:   svc.routes,
		Day:      svc.day,
		Geocoder: svc.geocoder,
		Pipeline: pl,
		Stops:    finder,
	})
	httpServer := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen, "refresh", conf.RefreshCron)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	appLog.Info("geocode cache at shutdown", "entries", svc.geocoder.Len())
	return nil
}
