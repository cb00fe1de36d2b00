package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"example.com/schcgate/internal/common"
	"example.com/schcgate/internal/report"
	"example.com/schcgate/internal/schc"
	"example.com/schcgate/internal/server"
	"example.com/schcgate/internal/telemetry"
)

type influxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type config struct {
	Port           int              `yaml:"port"`
	StorageDir     string           `yaml:"storageDir"`
	Concurrency    int              `yaml:"concurrency"`
	BufferLimit    int              `yaml:"bufferLimit"`
	DiscardRecords bool             `yaml:"discardRecords"`
	Lang           string           `yaml:"lang"`
	Layout         schc.Layout      `yaml:"layout"`
	ExpectedRuleID *int             `yaml:"expectedRuleId"`
	Depad          string           `yaml:"depad"`
	Logs           common.LogConfig `yaml:"logs"`
	Influx         influxConfig     `yaml:"influx"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	baseDir := filepath.Dir(path)
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = filepath.Join(baseDir, "data")
	}
	cfg.StorageDir = resolvePath(cfg.StorageDir)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.BufferLimit < 0 {
		return cfg, errors.New("bufferLimit must not be negative")
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	if _, err := report.ParseLanguage(cfg.Lang); err != nil {
		return cfg, err
	}
	if cfg.Layout == (schc.Layout{}) {
		cfg.Layout = schc.DefaultLayout
	}
	if err := cfg.Layout.Validate(); err != nil {
		return cfg, err
	}
	if cfg.ExpectedRuleID != nil {
		if id := *cfg.ExpectedRuleID; id < 0 || id >= 1<<cfg.Layout.RuleIDBits {
			return cfg, fmt.Errorf("expectedRuleId %d does not fit in %d bits", id, cfg.Layout.RuleIDBits)
		}
	}
	switch cfg.Depad {
	case "":
		cfg.Depad = "trailing-zeros"
	case "trailing-zeros", "none":
	default:
		return cfg, fmt.Errorf("unknown depad strategy %q", cfg.Depad)
	}
	if cfg.Logs.Directory == "" {
		cfg.Logs.Directory = filepath.Join(cfg.StorageDir, "logs")
	}
	cfg.Logs.Directory = resolvePath(cfg.Logs.Directory)
	cfg.Logs = cfg.Logs.WithDefaults()
	if cfg.Influx.URL != "" && cfg.Influx.Bucket == "" {
		cfg.Influx.Bucket = "schc"
	}
	return cfg, nil
}

func (c config) engine() (*schc.Engine, error) {
	opts := []schc.Option{schc.WithLayout(c.Layout)}
	if c.Depad == "none" {
		opts = append(opts, schc.WithDepadder(schc.NoDepadding))
	}
	if c.ExpectedRuleID != nil {
		opts = append(opts, schc.WithExpectedRuleID(uint8(*c.ExpectedRuleID)))
	}
	return schc.NewEngine(opts...)
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	addr := flag.String("addr", "", "listen address (overrides config port)")
	readTimeout := flag.Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	writeTimeout := flag.Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	logger, logCloser, err := common.NewLogger("schcd", cfg.Logs, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("setup logging")
	}
	defer logCloser.Close()

	engine, err := cfg.engine()
	if err != nil {
		logger.Fatal().Err(err).Msg("engine init")
	}
	lang, _ := report.ParseLanguage(cfg.Lang)

	var recorder telemetry.Recorder = telemetry.Nop{}
	if cfg.Influx.URL != "" {
		influx := telemetry.NewInflux(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		go func() {
			for err := range influx.Errors() {
				logger.Warn().Err(err).Msg("influx write")
			}
		}()
		recorder = influx
		logger.Info().Str("url", cfg.Influx.URL).Str("bucket", cfg.Influx.Bucket).Msg("telemetry enabled")
	}

	srv, err := server.NewServer(server.Options{
		StorageDir:     cfg.StorageDir,
		Engine:         engine,
		Concurrency:    cfg.Concurrency,
		BufferLimit:    cfg.BufferLimit,
		DiscardRecords: cfg.DiscardRecords,
		Lang:           lang,
		Logger:         logger,
		Recorder:       recorder,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("server init")
	}
	defer srv.Close()

	listenAddr := fmt.Sprintf(":%d", cfg.Port)
	if *addr != "" {
		listenAddr = *addr
	}
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
	}

	logger.Info().
		Str("addr", listenAddr).
		Str("storage", cfg.StorageDir).
		Uint8("ruleIdBits", cfg.Layout.RuleIDBits).
		Uint8("fcnBits", cfg.Layout.FCNBits).
		Msg("schcd listening")
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Msg("schcd stopped")
}
