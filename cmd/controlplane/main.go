// Command controlplane runs the model-serving control plane's HTTP
// surface: upload, deploy, and reverse-proxy model instances. Grounded on
// the teacher's top-level main.go (signal handling, env-var configuration,
// logrus setup).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/llmops-platform/controlplane/pkg/config"
	"github.com/llmops-platform/controlplane/pkg/engine/bundler"
	"github.com/llmops-platform/controlplane/pkg/engine/deploy"
	"github.com/llmops-platform/controlplane/pkg/engine/ports"
	"github.com/llmops-platform/controlplane/pkg/engine/proxy"
	"github.com/llmops-platform/controlplane/pkg/engine/registry"
	"github.com/llmops-platform/controlplane/pkg/engine/sandbox"
	"github.com/llmops-platform/controlplane/pkg/httpapi"
	"github.com/llmops-platform/controlplane/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.FromEnv()

	logrusLogger := logrus.New()
	if lvl, err := logrus.ParseLevel(envOr("CONTROLPLANE_LOG_LEVEL", "info")); err == nil {
		logrusLogger.SetLevel(lvl)
	}
	appLog := logging.NewLogrusAdapter(logrusLogger)

	if err := os.MkdirAll(cfg.RootDir, 0755); err != nil {
		return err
	}

	sink, sinkErr := logging.NewEventSink("controlplane", cfg.EventSinkPath)
	if sinkErr != nil {
		appLog.Warnf("event sink disabled: %v", sinkErr)
	}
	defer sink.Close()

	reg := registry.New()
	b := bundler.New(cfg.RootDir, appLog)
	pAlloc := ports.NewAllocator(cfg.BaseDataPort, cfg.BaseDataPort+1000)
	sb := sandbox.New(cfg.RootDir, cfg.PythonInterpreter, appLog)
	d := deploy.New(cfg.RootDir, reg, pAlloc, sb, nil, appLog, sink)
	x := proxy.New(reg, d, appLog, nil)
	server := httpapi.New(cfg.RootDir, b, d, reg, x, appLog)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		appLog.Infof("listening on %s (root=%s)", cfg.ListenAddr, cfg.RootDir)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		appLog.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		server.StopAll()
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
