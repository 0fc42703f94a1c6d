package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/config"
	"github.com/invisible-tech/threatcore/internal/controller"
	"github.com/invisible-tech/threatcore/internal/server"
	"github.com/invisible-tech/threatcore/internal/version"
	"github.com/invisible-tech/threatcore/pkg/catalogwatch"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	cfg := config.DefaultServiceConfig()
	ctrl, err := controller.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize controller")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.PatternCatalogPath != "" {
		watcher, err := catalogwatch.New(cfg.PatternCatalogPath, ctrl.Engine(), log)
		if err != nil {
			log.WithError(err).Fatal("Failed to load pattern catalog")
		}
		go watcher.Start(ctx)
	}

	ctrl.Start(ctx)

	srv := server.New(cfg, ctrl, log)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("threatcore server failed")
		}
	}()
	log.WithField("version", version.Version).Info("threatcore started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down threatcore")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
