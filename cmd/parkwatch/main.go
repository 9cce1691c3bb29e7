// Command parkwatch runs the parking monitor over recorded detection
// streams and serves status, metrics and debug pages.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/tsweb"

	"github.com/odsyjr2/illegal-parking-detection/internal/config"
	"github.com/odsyjr2/illegal-parking-detection/internal/coordinator"
	"github.com/odsyjr2/illegal-parking-detection/internal/dispatch"
	"github.com/odsyjr2/illegal-parking-detection/internal/httputil"
	"github.com/odsyjr2/illegal-parking-detection/internal/metrics"
	"github.com/odsyjr2/illegal-parking-detection/internal/monitoring"
	"github.com/odsyjr2/illegal-parking-detection/internal/parking"
	"github.com/odsyjr2/illegal-parking-detection/internal/replay"
	"github.com/odsyjr2/illegal-parking-detection/internal/reporting"
	"github.com/odsyjr2/illegal-parking-detection/internal/tracking"
	"github.com/odsyjr2/illegal-parking-detection/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	replayPath = flag.String("replay", "", "JSON Lines detection recording to replay")
	paced      = flag.Bool("paced", false, "Replay frames at recorded speed")
	listen     = flag.String("listen", ":8080", "Listen address for status and metrics")
	reportPath = flag.String("report-file", "", "Append confirmed violation reports to this file (default stdout)")
	reportURL  = flag.String("report-url", "", "POST confirmed violation reports to this URL instead of a file")
	logLevel   = flag.String("log-level", "ops", "Log level: off, ops, diag or trace")
	exitAtEnd  = flag.Bool("exit-at-end", true, "Exit once every replayed stream has ended")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

// reportTokenEnv names the environment variable holding the backend bearer
// token for -report-url.
const reportTokenEnv = "PARKWATCH_REPORT_TOKEN"

func setLogWriters(ops, diag, trace io.Writer) {
	tracking.SetLogWriters(ops, diag, trace)
	parking.SetLogWriters(ops, diag, trace)
	dispatch.SetLogWriters(ops, diag, trace)
	coordinator.SetLogWriters(ops, diag, trace)
	replay.SetLogWriters(ops, diag, trace)
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println("parkwatch", version.String())
		return
	}
	if *replayPath == "" {
		log.Fatal("-replay is required")
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	ops, diag, trace, err := monitoring.ParseLevel(*logLevel, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	setLogWriters(ops, diag, trace)
	logger := monitoring.NewStream("parkwatch", os.Stderr)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ccfg, err := cfg.CoordinatorConfig()
	if err != nil {
		log.Fatalf("invalid coordinator config: %v", err)
	}
	dcfg := cfg.DispatchConfig()

	var replayOpts []replay.Option
	if *paced {
		replayOpts = append(replayOpts, replay.WithPacing())
	}
	src, err := replay.Open(*replayPath, replayOpts...)
	if err != nil {
		log.Fatalf("failed to load recording: %v", err)
	}

	var reporter dispatch.ReportingClient
	switch {
	case *reportURL != "":
		reporter = reporting.NewClient(nil, *reportURL, os.Getenv(reportTokenEnv))
	case *reportPath != "":
		f, err := os.OpenFile(*reportPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("failed to open report file: %v", err)
		}
		defer f.Close()
		reporter = newReportWriter(f)
	default:
		reporter = newReportWriter(os.Stdout)
	}

	m := metrics.New()
	queue := dispatch.NewDispatcher(dcfg.QueueCapacity, dcfg.EnqueueTimeout, nil)
	m.SetQueueDepthFunc(queue.Len)
	queue.OnDrop = m.TaskDropped
	pool := dispatch.NewPool(dcfg, queue, acceptAnalyzer{}, reporter, dispatch.WithObserver(m))

	c := coordinator.New(ccfg, src, src, queue,
		coordinator.WithPool(pool),
		coordinator.WithRecorder(m),
		coordinator.WithStatusSink(coordinator.LogSink{}),
	)

	streams, err := streamSet(cfg, src.Streams())
	if err != nil {
		log.Fatalf("invalid stream config: %v", err)
	}
	for _, s := range streams {
		opts, err := cfg.StreamOptions(s)
		if err != nil {
			log.Fatalf("stream %s: %v", s.ID, err)
		}
		if err := c.AddStream(s.ID, opts...); err != nil {
			log.Fatalf("stream %s: %v", s.ID, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("failed to start coordinator: %v", err)
	}
	logger.Info().Int("streams", len(streams)).Str("recording", *replayPath).Str("version", version.Version).Msg("monitoring started")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		attachAdminRoutes(mux, c)

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}
		errc := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		select {
		case err := <-errc:
			return err
		case <-gctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server shutdown error")
			server.Close()
		}
		return nil
	})

	if *exitAtEnd {
		g.Go(func() error {
			waitForEnd(gctx, c)
			stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("HTTP server failed")
	}
	if err := c.Stop(); err != nil {
		logger.Error().Err(err).Msg("coordinator stop")
	}

	st := c.Status()
	logger.Info().
		Int("processed", st.Pool.Processed).
		Int("confirmed", st.Pool.Confirmed).
		Int("failed", st.Pool.Failed).
		Str("health", string(st.Health)).
		Msg("graceful shutdown complete")
}

// streamSet returns the configured streams, or one default entry per
// stream in the recording when the config names none.
func streamSet(cfg *config.Config, recorded []string) ([]config.StreamConfig, error) {
	if len(cfg.Streams) > 0 {
		known := make(map[string]bool, len(recorded))
		for _, id := range recorded {
			known[id] = true
		}
		for _, s := range cfg.Streams {
			if !known[s.ID] {
				return nil, fmt.Errorf("stream %s is not in the recording", s.ID)
			}
		}
		return cfg.Streams, nil
	}
	out := make([]config.StreamConfig, len(recorded))
	for i, id := range recorded {
		out[i] = config.StreamConfig{ID: id}
	}
	return out, nil
}

// waitForEnd returns once every stream has stopped and the pool has
// nothing queued, in flight or waiting to retry for two consecutive
// polls, or when ctx is done.
func waitForEnd(ctx context.Context, c *coordinator.Coordinator) {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	idle := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		if !replayFinished(c.Status()) {
			idle = 0
			continue
		}
		if idle++; idle >= 2 {
			return
		}
	}
}

func replayFinished(st coordinator.SystemStatus) bool {
	for _, s := range st.Streams {
		if s.State != coordinator.StateStopped {
			return false
		}
	}
	q := st.Pool.Queue
	return q.Len == 0 && st.Pool.PendingRetries == 0 && q.Dequeued == uint64(st.Pool.Processed)
}

// defaultEventLimit bounds the closed events /debug/events returns when
// no limit is given.
const defaultEventLimit = 50

func attachAdminRoutes(mux *http.ServeMux, c *coordinator.Coordinator) {
	debug := tsweb.Debugger(mux)
	debug.Handle("status", "Stream and worker pool status (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, c.Status())
	}))
	debug.Handle("events", "Open and recently closed parking events of one stream (JSON, ?stream=&limit=)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		limit := defaultEventLimit
		if v := r.FormValue("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				httputil.BadRequest(w, "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		events, err := c.Events(r.FormValue("stream"), limit)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, events)
	}))
	debug.HandleSilentFunc("stream-control", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		id := r.FormValue("id")
		var err error
		switch r.FormValue("action") {
		case "pause":
			err = c.PauseStream(id)
		case "resume":
			err = c.ResumeStream(id)
		case "stop":
			err = c.StopStream(id)
		case "start":
			err = c.StartStream(id)
		default:
			httputil.BadRequest(w, "action must be pause, resume, stop or start")
			return
		}
		if err != nil {
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"stream": id, "action": r.FormValue("action")})
	})
}
