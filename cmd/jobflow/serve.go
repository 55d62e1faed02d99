package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rendis/jobflow/internal/logging"
	"github.com/rendis/jobflow/internal/server"
	jobflowmcp "github.com/rendis/jobflow/pkg/mcp"
)

// runServe serves the HTTP API until SIGINT/SIGTERM. SIGHUP re-reads the
// configuration: log level and job definitions apply live, everything else
// is reported as needing a restart.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listenAddr := fs.String("listen-addr", "", "HTTP listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig()
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fatalf("%v", err)
	}
	defer a.close()

	gin.SetMode(gin.ReleaseMode)
	swapper := newHandlerSwapper(a.router())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           swapper,
		ReadHeaderTimeout: 10 * time.Second,
	}

	writePID()
	defer os.Remove(pidPath())

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				a.reload(swapper)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", cfg.ListenAddr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server stopped", logging.Err(err))
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http shutdown", logging.Err(err))
		}
	}
}

func (a *app) router() http.Handler {
	a.mu.Lock()
	l := a.launcher
	a.mu.Unlock()
	return server.New(server.Deps{
		Launcher: l,
		Store:    a.repo,
		Hub:      a.hub,
		Logger:   a.logger,
	}).Handler()
}

// reload applies what can change without a restart.
func (a *app) reload(swapper *handlerSwapper) {
	next := loadConfig()
	d := diffConfigs(a.cfg, next)

	if d.LogLevelChanged {
		a.level.Set(logging.ParseLevel(next.LogLevel))
		a.logger.Info("log level changed", "level", next.LogLevel)
		a.cfg.LogLevel = next.LogLevel
	}
	// Definitions are re-read on every SIGHUP so edited files apply too.
	reloadCfg := a.cfg
	reloadCfg.JobsDir, reloadCfg.Samples = next.JobsDir, next.Samples
	if err := a.reloadJobs(reloadCfg); err != nil {
		a.logger.Error("reload jobs failed, keeping previous definitions", logging.Err(err))
	} else {
		a.cfg.JobsDir, a.cfg.Samples = next.JobsDir, next.Samples
		swapper.Swap(a.router())
	}
	if len(d.RestartNeeded) > 0 {
		a.logger.Warn("settings changed that need a restart", "fields", strings.Join(d.RestartNeeded, ","))
	}
}

// runMCP serves the MCP tools over stdio.
func runMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, loadConfig())
	if err != nil {
		fatalf("%v", err)
	}
	defer a.close()

	srv := jobflowmcp.NewJobflowServer(jobflowmcp.ServerDeps{
		Launcher: a.launcher,
		Catalog:  a.catalog,
		Store:    a.repo,
		Hub:      a.hub,
		Logger:   a.logger,
	})
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatalf("mcp server: %v", err)
	}
}

func writePID() {
	if err := os.MkdirAll(jobflowDir(), 0o700); err != nil {
		return
	}
	_ = os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// signalRunningServer sends SIGHUP to a running server found via its
// pidfile. It reports whether a server was signaled.
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
