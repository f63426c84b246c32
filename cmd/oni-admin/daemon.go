package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/open-oni/oni-admin/internal/batch"
	"github.com/open-oni/oni-admin/internal/config"
	"github.com/open-oni/oni-admin/internal/content"
	"github.com/open-oni/oni-admin/internal/feed"
	"github.com/open-oni/oni-admin/internal/guard"
	"github.com/open-oni/oni-admin/internal/history"
	internalhttp "github.com/open-oni/oni-admin/internal/http"
	"github.com/open-oni/oni-admin/internal/jobs"
	"github.com/open-oni/oni-admin/internal/lock"
	"github.com/open-oni/oni-admin/internal/logger"
	"github.com/open-oni/oni-admin/internal/manage"
	"github.com/open-oni/oni-admin/internal/status"
	"github.com/open-oni/oni-admin/internal/toolcompat"
)

const recoveredInfo = "interrupted by restart"

func runServe() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init()

	logger.Infof("Daemon", "runServe", "oni-admin %s starting with config:", Version)
	logger.Infof("Daemon", "runServe", "  Addr: %s%s", cfg.Addr(), cfg.BasePath)
	logger.Infof("Daemon", "runServe", "  JobDBDriver: %s", cfg.JobDBDriver)
	logger.Infof("Daemon", "runServe", "  StateDir: %s", cfg.StateDir)
	logger.Infof("Daemon", "runServe", "  BatchStorage: %s", cfg.BatchStorage)
	logger.Infof("Daemon", "runServe", "  ManageBin: %s", cfg.ManageBin)
	logger.Infof("Daemon", "runServe", "  ExecSettle: %s", cfg.ExecSettle)
	logger.Infof("Daemon", "runServe", "  PageCounts: %v", cfg.ArchiveDSN != "")
	logger.Infof("Daemon", "runServe", "  SharedLock: %v", cfg.RedisAddr != "")
	logger.Infof("Daemon", "runServe", "  InstanceID: %s", cfg.InstanceID)

	if err := serve(context.Background(), cfg); err != nil {
		logger.Error("Daemon", "runServe", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	if cfg.JobDBDriver == config.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.JobDBDSN), 0755); err != nil {
			return fmt.Errorf("failed to create job database dir: %w", err)
		}
	}

	store, err := jobs.Open(ctx, cfg.JobDBDriver, cfg.JobDBDSN, jobs.WithOwner(cfg.InstanceID))
	if err != nil {
		return err
	}
	defer store.Close()

	runner := &manage.Runner{
		ManageBin: cfg.ManageBin,
		Python:    cfg.ManagePython,
		Logger:    logger.StdLogger(),
	}
	if current, err := toolcompat.Check(ctx, runner, cfg.ManageMinVersion); err != nil {
		return fmt.Errorf("management tooling check failed: %w", err)
	} else if current != "" {
		logger.Infof("Daemon", "serve", "management tooling version %s", toolcompat.NormalizeVersion(current))
	}

	hist := history.NewStore(cfg.StateDir)
	if cfg.RecoverOnStart {
		n, err := store.FailUnfinished(ctx, recoveredInfo)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Warnf("Daemon", "serve", "marked %d unfinished job(s) of %s as failed", n, cfg.InstanceID)
			if err := hist.Append(history.Event{
				Type:    history.TypeRecovered,
				Status:  jobs.StatusFailed.Label(),
				Message: recoveredInfo,
				Data:    map[string]string{"count": strconv.FormatInt(n, 10), "owner": cfg.InstanceID},
			}); err != nil {
				logger.Error("Daemon", "serve", err)
			}
		}
	}

	var pages content.PageCounter
	if cfg.ArchiveDSN != "" {
		counter, err := content.OpenMySQL(ctx, cfg.ArchiveDSN)
		if err != nil {
			logger.Warnf("Daemon", "serve", "page counts disabled: %v", err)
		} else {
			defer counter.Close()
			pages = counter
		}
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		redisLocker := lock.NewRedisLocker(cfg.RedisAddr, cfg.LockTTL)
		if err := redisLocker.Ping(ctx); err != nil {
			redisLocker.Close()
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		defer redisLocker.Close()
		locker = redisLocker
	}

	logs := jobs.NewLogStore(cfg.StateDir)
	jobFeed := feed.New()
	g := guard.New(guard.Options{
		Store:    store,
		Executor: runner,
		Locator:  batch.NewLocator(cfg.BatchStorage),
		Locker:   locker,
		Logs:     logs,
		History:  hist,
		Notify:   jobFeed.Publish,
		Settle:   cfg.ExecSettle,
	})

	server, err := internalhttp.New(cfg, internalhttp.Deps{
		Store:    store,
		Logs:     logs,
		Guard:    g,
		Reporter: status.NewReporter(store, pages),
		History:  hist,
		Feed:     jobFeed,
	})
	if err != nil {
		return err
	}
	return server.Start()
}
