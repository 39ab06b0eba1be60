package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hxnam/affibot/pkg/affiliate"
	"github.com/hxnam/affibot/pkg/bus"
	"github.com/hxnam/affibot/pkg/channels"
	"github.com/hxnam/affibot/pkg/config"
	"github.com/hxnam/affibot/pkg/heartbeat"
	"github.com/hxnam/affibot/pkg/ledger"
	"github.com/hxnam/affibot/pkg/links"
	"github.com/hxnam/affibot/pkg/logger"
	"github.com/hxnam/affibot/pkg/pipeline"
	"github.com/hxnam/affibot/pkg/qr"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".affibot", "config.json")
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	flag.Parse()

	if created, err := config.EnsureConfigFile(*configPath); err == nil && created {
		logger.InfoCF("main", "Wrote starter config", map[string]interface{}{
			"path": *configPath,
		})
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.FatalCF("main", "Failed to load config", map[string]interface{}{
			"path":  *configPath,
			"error": err.Error(),
		})
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath, cfg.Logging.MaxSizeMB); err != nil {
			logger.WarnCF("main", "File logging unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if err := cfg.Validate(); err != nil {
		logger.FatalC("main", err.Error())
	}

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0755); err != nil {
		logger.FatalCF("main", "Failed to create workspace", map[string]interface{}{
			"path":  workspace,
			"error": err.Error(),
		})
	}

	instanceID := uuid.NewString()[:8]

	msgBus := bus.NewMessageBus(cfg.Pipeline.QueueSize)
	ldg := ledger.New(
		time.Duration(cfg.Pipeline.CooldownSeconds)*time.Second,
		cfg.Pipeline.SeenHighWater,
		cfg.Pipeline.SeenKeep,
	)
	normalizer := links.NewNormalizer(time.Duration(cfg.Pipeline.ExpandTimeoutSeconds) * time.Second)
	resolver := affiliate.NewClient(
		cfg.Affiliate.BaseURL,
		cfg.Affiliate.AccessToken,
		cfg.Affiliate.Merchant,
		time.Duration(cfg.Affiliate.TimeoutSeconds)*time.Second,
	)
	renderer, err := qr.NewRenderer(workspace)
	if err != nil {
		logger.FatalCF("main", "Failed to set up QR renderer", map[string]interface{}{
			"error": err.Error(),
		})
	}

	manager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		logger.FatalCF("main", "Failed to set up channels", map[string]interface{}{
			"error": err.Error(),
		})
	}

	pipe := pipeline.New(msgBus, ldg, normalizer, resolver, renderer, pipeline.Options{
		CommandPrefix: cfg.Pipeline.CommandPrefix,
		Workers:       cfg.Pipeline.Workers,
		InstanceID:    instanceID,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		logger.FatalCF("main", "Failed to start channels", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if cfg.Heartbeat.Enabled {
		hb, err := heartbeat.New(cfg.Heartbeat.Cron, ldg, renderer)
		if err != nil {
			logger.FatalCF("main", "Failed to set up heartbeat", map[string]interface{}{
				"error": err.Error(),
			})
		}
		go hb.Run(ctx)
	}

	logger.InfoCF("main", "affibot ready", map[string]interface{}{
		"instance": instanceID,
	})

	pipe.Run(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	manager.StopAll(stopCtx)
	logger.InfoC("main", "Shutdown complete")
	logger.DisableFileLogging()
}
