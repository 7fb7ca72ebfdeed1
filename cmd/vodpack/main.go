// Command vodpack packages source video into adaptive DASH/HLS streams.
//
// Usage:
//
//	vodpack [serve] [-config vodpack.yaml]
//	vodpack run -input movie.mkv [-subs movie.subs] [-key movie] [-encrypt]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/config"
	"github.com/mantonx/vodpack/internal/logger"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
	"github.com/mantonx/vodpack/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		return serve(args, stderr)
	case "run":
		return runJob(args, stdout, stderr)
	case "help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  vodpack [serve] [-config path]")
	fmt.Fprintln(w, "  vodpack run -input path [-subs dir] [-key key] [-encrypt] [-config path]")
}

// loadConfig reads the configuration and configures the root logger from it
func loadConfig(path string) (*config.Config, hclog.Logger, error) {
	if path == "" {
		path = os.Getenv("VODPACK_CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat("./vodpack.yaml"); err == nil {
			path = "./vodpack.yaml"
		}
	}

	if err := config.Load(path); err != nil {
		return nil, nil, err
	}
	cfg := config.Get()
	log := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, nil)
	if path != "" {
		log.Info("configuration loaded", "path", path)
	}
	return cfg, log, nil
}

func serve(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to vodpack.yaml")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, log, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	db, err := server.OpenDatabase(cfg)
	if err != nil {
		log.Error("failed to open database", "error", err)
		return 1
	}

	srv, err := server.New(cfg, db, log)
	if err != nil {
		log.Error("failed to create server", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, shutdownTimeout); err != nil {
		log.Error("server stopped with error", "error", err)
		return 1
	}
	return 0
}

func runJob(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to vodpack.yaml")
	input := fs.String("input", "", "source video file")
	subs := fs.String("subs", "", "directory of .srt/.vtt subtitles")
	key := fs.String("key", "", "job key; names the output directory")
	encrypt := fs.Bool("encrypt", false, "encrypt with a generated ClearKey")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" {
		fmt.Fprintln(stderr, "run: -input is required")
		return 2
	}

	cfg, log, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	req := types.JobRequest{
		InputPath:   *input,
		SubtitleDir: *subs,
		JobKey:      *key,
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "encrypt" {
			req.Encrypt = encrypt
		}
	})

	db, err := server.OpenDatabase(cfg)
	if err != nil {
		log.Error("failed to open database", "error", err)
		return 1
	}

	manager, err := transcodingmodule.NewManager(cfg.Pipeline(), db, nil, log)
	if err != nil {
		log.Error("failed to create transcoding manager", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job, runErr := manager.Run(ctx, req)
	if job != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(job); err != nil {
			log.Warn("failed to print job", "error", err)
		}
	}
	if runErr != nil {
		log.Error("job failed", "error", runErr)
		return 1
	}

	log.Info("job completed", "manifest_mpd", job.ManifestMPD, "manifest_hls", job.ManifestHLS)
	return 0
}
