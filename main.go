package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

type cliFlags struct {
	configPath string
	port       int
	scratchDir string
	cookies    string
	ytdlp      string
	redisAddr  string
	logLevel   string
}

func newRootCmd(runFn func(Config) error) *cobra.Command {
	var flags cliFlags

	cmd := &cobra.Command{
		Use:           "sonictube",
		Short:         "HTTP gateway that downloads media through yt-dlp and streams it back",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCommandConfig(cmd, flags)
			if err != nil {
				return err
			}
			return runFn(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", os.Getenv("SONICTUBE_CONFIG"), "path to a YAML config file")
	f.IntVarP(&flags.port, "port", "p", DefaultPort, "listening port")
	f.StringVar(&flags.scratchDir, "scratch-dir", DefaultScratchDir, "directory for transient downloads")
	f.StringVar(&flags.cookies, "cookies", DefaultCookiesFile, "cookie file passed to yt-dlp when present")
	f.StringVar(&flags.ytdlp, "ytdlp", DefaultYtdlpPath, "yt-dlp executable")
	f.StringVar(&flags.redisAddr, "redis", "", "Redis address for download records (empty keeps them in memory)")
	f.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	return cmd
}

// loadCommandConfig applies explicitly set flags on top of file and env.
func loadCommandConfig(cmd *cobra.Command, flags cliFlags) (Config, error) {
	cfg, err := LoadConfig(flags.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return cfg, err
	}
	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.Port = flags.port
	}
	if changed("scratch-dir") {
		cfg.ScratchDir = flags.scratchDir
	}
	if changed("cookies") {
		cfg.CookiesFile = flags.cookies
	}
	if changed("ytdlp") {
		cfg.YtdlpPath = flags.ytdlp
	}
	if changed("redis") {
		cfg.RedisAddr = flags.redisAddr
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, cfg.Validate()
}

func run(cfg Config) error {
	logger := newLogger(os.Stdout, cfg.LogLevel)

	if err := ensureScratchDir(cfg.ScratchDir); err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := openRecordStore(ctx, cfg, logger)
	defer store.Close()

	srv := NewServer(cfg, newYtdlpEngine(cfg.YtdlpPath), store, logger)

	sweeper := &scratchSweeper{
		dir:      cfg.ScratchDir,
		ttl:      cfg.ScratchTTL,
		interval: cfg.SweepInterval,
		store:    store,
		logger:   logger,
	}
	go sweeper.Run(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("🚀 Server running",
		"addr", "http://localhost"+cfg.Addr(),
		"max_concurrent", cfg.MaxConcurrentDownloads,
		"rate_limit", cfg.RequestsPerSecond,
		"burst", cfg.BurstSize,
		"store", store.Name(),
		"scratch", cfg.ScratchDir,
	)
	return serveUntilSignal(httpSrv, cancel, logger)
}

func main() {
	if err := newRootCmd(run).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
