package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/server"
	"github.com/Wikid82/warden/internal/services"
	"github.com/Wikid82/warden/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}
	logger.Init(cfg.Debug, logger.Output(cfg.LogFile))
	logger.WithFields(logrus.Fields{"version": version.Full(), "env": cfg.Environment}).Infof("starting %s", version.Name)

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		logger.Log().WithError(err).Fatal("connect database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Log().WithError(err).Fatal("migrate database")
	}

	suite, err := services.NewSuite(db, cfg.Security, nil)
	if err != nil {
		logger.Log().WithError(err).Fatal("build security suite")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seeded, err := suite.Rules.SeedDefaults(ctx)
	if err != nil {
		logger.Log().WithError(err).Fatal("seed default response rules")
	}
	if cfg.RulesFile != "" {
		loaded, err := suite.Rules.LoadFile(ctx, cfg.RulesFile)
		if err != nil {
			logger.Log().WithError(err).WithField("path", cfg.RulesFile).Fatal("load response rules file")
		}
		seeded += loaded
	}
	logger.Log().WithField("created", seeded).Info("response rules ready")

	metrics.Register(prometheus.DefaultRegisterer)

	srv, err := server.New(suite, cfg)
	if err != nil {
		logger.Log().WithError(err).Fatal("build server")
	}

	suite.Maintenance.Start()
	defer suite.Maintenance.Stop()

	logger.Log().WithField("port", cfg.HTTPPort).Info("listening")
	if err := srv.Run(ctx); err != nil {
		logger.Log().WithError(err).Error("server error")
		return
	}
	logger.Log().Info("shut down cleanly")
}
