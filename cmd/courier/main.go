// Command courier manages webhooks and delivers events to them.
//
//	courier -register -url https://example.com/hook -events order.created
//	courier -list
//	courier -update <id>      toggle a webhook between active and inactive
//	courier -delete <id>
//	courier -trigger          send a test event to every subscribed webhook
//	courier -serve -addr :8080
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	"github.com/xraph/courier/configfile"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/logging"
	"github.com/xraph/courier/observability"
	redisqueue "github.com/xraph/courier/queue/redis"
	"github.com/xraph/courier/store/sqlite"
	"github.com/xraph/courier/webhook"
)

type options struct {
	configPath string
	dbPath     string
	redisAddr  string
	logFile    string

	register    bool
	url         string
	events      string
	description string
	format      string

	list    bool
	update  string
	delete  string
	trigger bool

	serve bool
	addr  string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", configfile.DefaultName, "Path to the JSON or YAML config file")
	flag.StringVar(&o.dbPath, "db", "data/courier.db", "Path to the SQLite database")
	flag.StringVar(&o.redisAddr, "redis", "", "Redis address for the delivery queue (in-process queue when empty)")
	flag.StringVar(&o.logFile, "log-file", "", "Also write logs to this file, rotated")

	flag.BoolVar(&o.register, "register", false, "Register a new webhook")
	flag.StringVar(&o.url, "url", "", "Webhook URL (with -register)")
	flag.StringVar(&o.events, "events", "", "Comma-separated events to subscribe to (with -register)")
	flag.StringVar(&o.description, "description", "", "Webhook description (with -register)")
	flag.StringVar(&o.format, "format", "json", "Payload format, json or xml (with -register)")

	flag.BoolVar(&o.list, "list", false, "List registered webhooks")
	flag.StringVar(&o.update, "update", "", "Toggle the active state of the webhook with this ID")
	flag.StringVar(&o.delete, "delete", "", "Delete the webhook with this ID")
	flag.BoolVar(&o.trigger, "trigger", false, "Send a test event to all subscribed webhooks")

	flag.BoolVar(&o.serve, "serve", false, "Run the delivery engine and admin API")
	flag.StringVar(&o.addr, "addr", ":8080", "Listen address (with -serve)")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(o options) error {
	file, created, err := configfile.Load(o.configPath)
	if err != nil {
		return err
	}

	logCfg := file.Logging
	if o.logFile != "" {
		logCfg.FilePath = o.logFile
	}
	logger := logging.New(logCfg, nil)
	defer logger.Close()

	if created {
		logger.Info("wrote default configuration", "path", o.configPath)
	}

	db, err := sqlite.Open(o.dbPath)
	if err != nil {
		return err
	}
	st := sqlite.New(db)
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []courier.Option{
		courier.WithStore(st),
		courier.WithConfig(file.Config),
		courier.WithLogger(logger.Logger),
		courier.WithMetrics(observability.NewMetrics(reg)),
		courier.WithTracer(observability.NewTracer()),
	}
	if o.redisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: o.redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", o.redisAddr, err)
		}
		opts = append(opts, courier.WithQueue(redisqueue.New(rdb)))
	}

	c, err := courier.New(opts...)
	if err != nil {
		return err
	}

	switch {
	case o.register:
		return register(ctx, c, o)
	case o.list:
		return list(ctx, c)
	case o.update != "":
		return toggle(ctx, c, o.update)
	case o.delete != "":
		return remove(ctx, c, o.delete)
	case o.trigger:
		return trigger(ctx, c, file.Config.ShutdownTimeout())
	case o.serve:
		return serve(ctx, c, reg, logger, o)
	default:
		flag.Usage()
		return nil
	}
}

func register(ctx context.Context, c *courier.Courier, o options) error {
	if o.url == "" {
		return errors.New("-url is required with -register")
	}
	in := webhook.Input{
		URL:         o.url,
		Description: o.description,
		Format:      o.format,
	}
	if o.events != "" {
		for _, ev := range strings.Split(o.events, ",") {
			if ev = strings.TrimSpace(ev); ev != "" {
				in.Events = append(in.Events, ev)
			}
		}
	}

	whID, err := c.Register(ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("Webhook registered successfully with ID: %s\n", whID)
	return nil
}

func list(ctx context.Context, c *courier.Courier) error {
	hooks, err := c.List(ctx, false)
	if err != nil {
		return err
	}
	if len(hooks) == 0 {
		fmt.Println("No webhooks registered")
		return nil
	}

	fmt.Printf("Registered webhooks (%d):\n", len(hooks))
	for _, w := range hooks {
		state := "Active"
		if !w.Active {
			state = "Inactive"
		}
		fmt.Printf("\nID: %s\n", w.ID)
		fmt.Printf("  URL: %s\n", w.URL)
		fmt.Printf("  Description: %s\n", w.Description)
		fmt.Printf("  Format: %s\n", w.Format)
		fmt.Printf("  Events: %s\n", strings.Join(w.Events, ", "))
		fmt.Printf("  Status: %s\n", state)
		fmt.Printf("  Deliveries: %d total, %d successful, %d failed\n",
			w.Stats.TotalDeliveries, w.Stats.SuccessfulDeliveries, w.Stats.FailedDeliveries)
		if w.Stats.LastDeliveryAt != nil {
			fmt.Printf("  Last delivery: %s (%s)\n",
				w.Stats.LastDeliveryAt.Format(time.RFC3339), w.Stats.LastDeliveryStatus)
		}
	}
	return nil
}

func toggle(ctx context.Context, c *courier.Courier, raw string) error {
	whID, err := id.ParseWebhookID(raw)
	if err != nil {
		return fmt.Errorf("webhook %s not found", raw)
	}
	w, err := c.Get(ctx, whID)
	if err != nil {
		return err
	}

	active := !w.Active
	if _, err := c.Update(ctx, whID, webhook.Patch{Active: &active}); err != nil {
		return err
	}
	state := "activated"
	if !active {
		state = "deactivated"
	}
	fmt.Printf("Webhook %s %s\n", whID, state)
	return nil
}

func remove(ctx context.Context, c *courier.Courier, raw string) error {
	whID, err := id.ParseWebhookID(raw)
	if err != nil {
		return fmt.Errorf("webhook %s not found", raw)
	}
	if err := c.Delete(ctx, whID); err != nil {
		return err
	}
	fmt.Printf("Webhook %s deleted\n", whID)
	return nil
}

// trigger sends a test event and waits until every queued delivery has
// been attempted at least once. Retries left pending are picked up by the
// next run.
func trigger(ctx context.Context, c *courier.Courier, wait time.Duration) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		_ = c.Stop(stopCtx)
	}()

	n, err := c.TriggerTest(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("No webhooks were triggered")
		return nil
	}
	fmt.Printf("Triggered %d webhooks\n", n)

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return awaitFirstAttempts(waitCtx, c)
}

func awaitFirstAttempts(ctx context.Context, c *courier.Courier) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		busy, err := unattempted(ctx, c)
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func unattempted(ctx context.Context, c *courier.Courier) (bool, error) {
	inFlight, err := c.Deliveries(ctx, delivery.ListOpts{Status: delivery.StatusInFlight})
	if err != nil {
		return false, err
	}
	if len(inFlight) > 0 {
		return true, nil
	}
	pending, err := c.Store().PendingDeliveries(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range pending {
		if d.Attempts == 0 {
			return true, nil
		}
	}
	return false, nil
}

func serve(ctx context.Context, c *courier.Courier, reg *prometheus.Registry, logger *logging.Logger, o options) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	err := configfile.Watch(ctx, o.configPath, configfile.DefaultDebounce, func(f *configfile.File, err error) {
		if err == nil {
			err = c.Reconfigure(f.Config)
		}
		if err != nil {
			logger.Warn("config reload rejected", "path", o.configPath, "error", err)
			return
		}
		logger.SetLevel(f.Logging.Level)
		logger.Info("config reloaded", "path", o.configPath)
	})
	if err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", api.NewHandler(c, logger.Logger))

	srv := &http.Server{
		Addr:              o.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", o.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Config().ShutdownTimeout())
	defer cancel()

	return errors.Join(serveErr, srv.Shutdown(shutdownCtx), c.Stop(shutdownCtx))
}
