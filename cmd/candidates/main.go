package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Ss-maker786/x-auto-post/internal/candidates"
	"github.com/Ss-maker786/x-auto-post/internal/config"
	"github.com/Ss-maker786/x-auto-post/internal/xapi"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config path (empty = built-in defaults)")
		outPath    = flag.String("out", "", "output CSV override")
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
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("load timezone")
	}
	policy, err := cfg.Retry.Policy()
	if err != nil {
		log.Fatal().Err(err).Msg("retry policy")
	}

	secrets, err := config.LoadSearchSecrets()
	if err != nil {
		log.Fatal().Err(err).Msg("load credentials")
	}
	client := xapi.NewClient(xapi.Credentials{BearerToken: secrets.BearerToken})
	if cfg.API.BaseURL != "" {
		client.BaseURL = cfg.API.BaseURL
	}
	client.Limiter = rate.NewLimiter(rate.Limit(cfg.API.RatePerMinute)/60, 1)

	finder := &candidates.Finder{
		Searcher:   client,
		Tags:       cfg.Search.Tags,
		Keywords:   cfg.Search.Keywords,
		BlockWords: cfg.Search.BlockWords,
		Lang:       cfg.Search.Lang,
		MaxResults: cfg.Search.MaxResults,
		Loc:        loc,
		Retry:      policy,
	}

	out := cfg.Search.Out
	if *outPath != "" {
		out = *outPath
	}

	// Unlike dispatch there is no queue row to carry a failure, so a failed
	// search fails the job.
	found, err := finder.Run(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("candidate search")
	}
	if err := candidates.WriteCSV(out, found); err != nil {
		log.Fatal().Err(err).Msg("write candidates")
	}
	log.Info().Int("count", len(found)).Str("out", out).Msg("candidates written")
}
