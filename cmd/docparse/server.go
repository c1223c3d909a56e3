package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/endy1328/document-parser-system/internal/api"
	"github.com/endy1328/document-parser-system/internal/config"
	"github.com/endy1328/document-parser-system/internal/convert"
	"github.com/endy1328/document-parser-system/internal/ingest"
	"github.com/endy1328/document-parser-system/internal/parser"
	"github.com/endy1328/document-parser-system/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the conversion worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP over stdio and run the conversion worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

// pipeline is the wired producer and consumer sides sharing one store.
type pipeline struct {
	store   *storage.Store
	service *ingest.Service
	worker  *ingest.Worker
}

func buildPipeline(cfg config.Config) (*pipeline, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	// Jobs claimed by a previous process can never finish.
	n, err := store.FailInterrupted("interrupted by shutdown before processing finished")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("recovering interrupted jobs: %w", err)
	}
	if n > 0 {
		slog.Warn("marked interrupted jobs as failed", "count", n)
	}

	conv, err := convert.NewSet(cfg.Convert.Backend, convert.Tools{
		PDFToText: cfg.Convert.PDFToText,
		PDFInfo:   cfg.Convert.PDFInfo,
		PDFImages: cfg.Convert.PDFImages,
		PDFToPPM:  cfg.Convert.PDFToPPM,
		DOCX2Txt:  cfg.Convert.DOCX2Txt,
		XLSX2CSV:  cfg.Convert.XLSX2CSV,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	registry := parser.NewRegistry(conv, parser.Options{
		Timeout:        cfg.Convert.Timeout,
		ThumbnailWidth: cfg.Convert.ThumbnailWidth,
	})

	dirs := ingest.Dirs{Uploads: cfg.Storage.Uploads(), Artifacts: cfg.Storage.Artifacts()}
	for _, d := range []string{dirs.Uploads, dirs.Artifacts} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			store.Close()
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}

	worker := ingest.NewWorker(store, store, registry, dirs, cfg.Worker.PollInterval)
	worker.SetProgressReporting(cfg.Worker.Progress)

	slog.Info("pipeline ready",
		"data_dir", cfg.Storage.DataDir,
		"backend", cfg.Convert.Backend,
		"poll_interval", cfg.Worker.PollInterval,
	)
	return &pipeline{
		store:   store,
		service: ingest.NewService(store, store, dirs.Uploads),
		worker:  worker,
	}, nil
}

func (p *pipeline) close() {
	if err := p.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	if cfg.Server.Token == "" {
		slog.Warn("server.token is not set; the API accepts unauthenticated requests")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewAppHandler(api.AppDeps{
			Service:        p.service,
			Token:          cfg.Server.Token,
			MaxUploadBytes: int64(cfg.Server.MaxUploadBytes),
			ArtifactDir:    cfg.Storage.Artifacts(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "docparse listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	stdioSrv := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Service: p.service, Version: version}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("MCP server started (stdio transport)")
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		// stdin closed: stop the worker too
		stop()
		return nil
	})
	return g.Wait()
}
