package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Ss-maker786/x-auto-post/internal/api"
	"github.com/Ss-maker786/x-auto-post/internal/config"
	"github.com/Ss-maker786/x-auto-post/internal/dispatch"
	"github.com/Ss-maker786/x-auto-post/internal/scheduler"
	"github.com/Ss-maker786/x-auto-post/internal/store"
	"github.com/Ss-maker786/x-auto-post/internal/xapi"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config path (empty = built-in defaults)")
		queuePath  = flag.String("queue", "", "queue file override")
		dryRun     = flag.Bool("dry-run", false, "select and log, but do not post or save")
		loop       = flag.Bool("loop", false, "keep running, dispatching on the configured cron")
		serve      = flag.Bool("serve", false, "serve the admin API")
		addr       = flag.String("addr", "", "admin API bind address override")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *queuePath != "" {
		cfg.Storage.Path = *queuePath
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("load timezone")
	}
	policy, err := cfg.Retry.Policy()
	if err != nil {
		log.Fatal().Err(err).Msg("retry policy")
	}

	st, err := store.Open(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("open queue store")
	}
	defer st.Close()

	// Dry runs never reach the API, so they work without credentials.
	var poster dispatch.Poster
	if !*dryRun {
		secrets, err := config.LoadOAuthSecrets()
		if err != nil {
			log.Fatal().Err(err).Msg("load credentials")
		}
		client := xapi.NewClient(xapi.Credentials{
			APIKey:            secrets.APIKey,
			APISecret:         secrets.APISecret,
			AccessToken:       secrets.AccessToken,
			AccessTokenSecret: secrets.AccessTokenSecret,
			BearerToken:       secrets.BearerToken,
		})
		if cfg.API.BaseURL != "" {
			client.BaseURL = cfg.API.BaseURL
		}
		client.Limiter = rate.NewLimiter(rate.Limit(cfg.API.RatePerMinute)/60, 1)
		poster = client
	}

	disp := &dispatch.Dispatcher{
		Store:  st,
		Poster: poster,
		Slots:  cfg.Slots,
		Loc:    loc,
		Retry:  policy,
		DryRun: *dryRun,
	}

	if !*loop && !*serve {
		out, err := disp.Run(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("dispatch")
		}
		// A recorded delivery failure is fail-soft: the row carries the
		// diagnosis and the next run retries it.
		if out.Err != nil || out.ReplyErr != nil {
			log.Warn().Msg("delivery failed, outcome recorded in queue")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var srv *api.Server
	var httpSrv *http.Server
	if *serve {
		srv = api.NewServer(st, disp)
		bind := cfg.Serve.Addr
		if *addr != "" {
			bind = *addr
		}
		httpSrv = &http.Server{Addr: bind, Handler: srv}
		go func() {
			log.Info().Str("addr", bind).Msg("admin API starting")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("admin API")
			}
		}()
	}

	var trig *scheduler.Trigger
	if *loop {
		run := func() {
			var err error
			if srv != nil {
				_, err = srv.Dispatch(ctx)
			} else {
				_, err = disp.Run(ctx)
			}
			if err != nil {
				log.Error().Err(err).Msg("dispatch run failed")
			}
		}
		trig, err = scheduler.NewTrigger(loc, cfg.Loop.Cron, run)
		if err != nil {
			log.Fatal().Err(err).Msg("loop trigger")
		}
		trig.Start()
		if next, err := scheduler.NextRun(cfg.Loop.Cron, time.Now().In(loc)); err == nil {
			log.Info().Time("next", next).Msg("next dispatch")
		}
	}

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	if trig != nil {
		trig.Stop()
	}
	if httpSrv != nil {
		ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelTimeout()
		_ = httpSrv.Shutdown(ctxTimeout)
	}
}
