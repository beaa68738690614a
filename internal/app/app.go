// Package app wires configuration into a ready capture service: browser,
// surface backend, persistence, run ledger and notifier.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgnsrekt/chartshot/internal/browser"
	"github.com/dgnsrekt/chartshot/internal/cdp"
	"github.com/dgnsrekt/chartshot/internal/cdpcontrol"
	"github.com/dgnsrekt/chartshot/internal/chart"
	"github.com/dgnsrekt/chartshot/internal/config"
	"github.com/dgnsrekt/chartshot/internal/controller"
	"github.com/dgnsrekt/chartshot/internal/notify"
	"github.com/dgnsrekt/chartshot/internal/objectstore"
	"github.com/dgnsrekt/chartshot/internal/report"
	"github.com/dgnsrekt/chartshot/internal/snapshot"
	"github.com/dgnsrekt/chartshot/internal/surface"
)

const (
	ledgerMaxSizeMB = 10
	notifyTimeout   = 10 * time.Second
)

type surfaceCloser interface {
	surface.Surface
	Close() error
}

// App owns every long-lived resource behind a controller.Service.
type App struct {
	Service *controller.Service

	launcher *browser.Launcher
	surface  surfaceCloser
	ledger   *report.Ledger
}

// Open starts (or reuses) the browser, attaches the configured surface
// backend and builds the service. On error everything opened so far is
// released.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	svc, err := a.open(ctx, cfg)
	if err != nil {
		if cerr := a.Close(); cerr != nil {
			slog.Debug("partial app cleanup failed", "error", cerr)
		}
		return nil, err
	}
	a.Service = svc
	return a, nil
}

func (a *App) open(ctx context.Context, cfg *config.Config) (*controller.Service, error) {
	sel, err := config.LoadSelectors(cfg.SelectorsFile)
	if err != nil {
		return nil, err
	}

	if cfg.LaunchBrowser {
		a.launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
			WindowSize: cfg.WindowSize,
			Binary:     cfg.BrowserBinary,
			Headless:   cfg.Headless,
		})
		if err := a.launcher.Launch(ctx); err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
	}

	surf, err := openSurface(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.surface = surf

	persister, snaps, err := openPersister(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.ledger = report.NewLedger(cfg.ReportDir, ledgerMaxSizeMB)

	var notifier controller.Notifier
	if n := notify.New(&http.Client{Timeout: notifyTimeout}, cfg.NotifyEndpoint); n != nil {
		notifier = n
	}

	return controller.NewService(a.surface, sel, persister, snaps, a.ledger, notifier, controller.Options{
		StartURL:   cfg.StartURL,
		Symbols:    cfg.Symbols,
		Chart:      cfg.ChartOptions(),
		RunTimeout: cfg.RunTimeout(),
	}), nil
}

func openSurface(ctx context.Context, cfg *config.Config) (surfaceCloser, error) {
	switch cfg.Backend {
	case config.BackendRawCDP:
		c := cdpcontrol.NewClient(cfg.GetCDPURL(), cfg.TabURLFilter, cfg.Timeout())
		if err := c.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect raw CDP client: %w", err)
		}
		if info, ok := c.Chart(); ok {
			slog.Info("surface attached", "backend", cfg.Backend, "target_id", info.TargetID, "chart_id", info.ChartID)
		}
		return c, nil
	default:
		s, err := cdp.Connect(ctx, cdp.Options{
			CDPURL:       cfg.GetCDPURL(),
			TabURLFilter: cfg.TabURLFilter,
			StartURL:     cfg.StartURL,
			OpTimeout:    cfg.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("connect chromedp surface: %w", err)
		}
		slog.Info("surface attached", "backend", cfg.Backend, "target_id", s.TargetID())
		return s, nil
	}
}

func openPersister(ctx context.Context, cfg *config.Config) (chart.Persister, *snapshot.Store, error) {
	if cfg.Storage == config.StorageS3 {
		p, err := objectstore.NewS3Persister(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	}
	store, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("snapshot persister ready", "dir", cfg.SnapshotDir)
	return snapshot.NewPersister(store), store, nil
}

// Close releases the surface and ledger and stops a browser this App
// launched. Safe on a partially opened App.
func (a *App) Close() error {
	var errs []error
	if a.surface != nil {
		if err := a.surface.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close surface: %w", err))
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close run ledger: %w", err))
		}
	}
	if a.launcher != nil && a.launcher.Running() {
		a.launcher.Stop()
	}
	return errors.Join(errs...)
}
