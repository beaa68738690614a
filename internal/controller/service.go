package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/chartshot/internal/cdpcontrol"
	"github.com/dgnsrekt/chartshot/internal/chart"
	"github.com/dgnsrekt/chartshot/internal/notify"
	"github.com/dgnsrekt/chartshot/internal/report"
	"github.com/dgnsrekt/chartshot/internal/snapshot"
	"github.com/dgnsrekt/chartshot/internal/surface"
	"github.com/google/uuid"
)

// notifyTimeout bounds the notification POST. It runs detached from the run
// context so a run that hit its budget still reports.
const notifyTimeout = 10 * time.Second

// Ledger records finished runs.
type Ledger interface {
	Append(r report.Run) error
	Today() ([]report.Run, error)
}

type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// Options configure a Service.
type Options struct {
	// StartURL is loaded before every run so each run prepares a fresh chart.
	// Empty reuses whatever the surface currently shows.
	StartURL string
	// Symbols is used when a run is started without any.
	Symbols    []string
	Indicators []chart.IndicatorSpec
	Chart      chart.Options
	// RunTimeout bounds a whole run; zero means no bound beyond the caller's.
	RunTimeout time.Duration
}

// Service runs the capture pipeline against a single surface. Runs are
// serialised; a run requested while another is active is rejected.
type Service struct {
	surface   surface.Surface
	sel       surface.Selectors
	persister chart.Persister
	snaps     *snapshot.Store
	ledger    Ledger
	notifier  Notifier
	opts      Options

	runMu sync.Mutex
	newID func() string
	now   func() time.Time
}

// NewService wires the pipeline. snaps, ledger and notifier may be nil:
// without snaps the snapshot methods report storage as disabled.
func NewService(s surface.Surface, sel surface.Selectors, p chart.Persister, snaps *snapshot.Store, ledger Ledger, notifier Notifier, opts Options) *Service {
	if opts.Indicators == nil {
		opts.Indicators = chart.DefaultIndicators()
	}
	return &Service{
		surface:   s,
		sel:       sel,
		persister: p,
		snaps:     snaps,
		ledger:    ledger,
		notifier:  notifier,
		opts:      opts,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

// Run navigates to the start URL, prepares the chart and captures symbols
// (the configured list when symbols is empty). The returned error is set only
// when the run could not start; pipeline failures are reported in the
// returned report.
func (s *Service) Run(ctx context.Context, symbols []string) (report.Run, error) {
	symbols = cleanSymbols(symbols)
	if len(symbols) == 0 {
		symbols = s.opts.Symbols
	}
	if len(symbols) == 0 {
		return report.Run{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "symbols are required"}
	}
	if !s.runMu.TryLock() {
		return report.Run{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeBusy, Message: "a capture run is already in progress"}
	}
	defer s.runMu.Unlock()

	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	id := s.newID()
	started := s.now()
	logger := slog.With("run_id", id)
	logger.Info("capture run start", "symbols", strings.Join(symbols, ","))

	var failures []report.Failure
	opts := s.opts.Chart
	onFailure := opts.OnFailure
	opts.OnFailure = func(e *chart.StepError) {
		failures = append(failures, report.FailureFromStep(e))
		if onFailure != nil {
			onFailure(e)
		}
	}

	artifacts, runErr := s.pipeline(ctx, symbols, opts)

	rep := report.Build(id, started, s.now(), symbols, artifacts, failures, runErr)
	if runErr != nil {
		logger.Error("capture run failed", "status", rep.Status, "captured", len(rep.Artifacts), "error", runErr)
	} else {
		logger.Info("capture run done", "status", rep.Status, "captured", len(rep.Artifacts))
	}

	if s.ledger != nil {
		if err := s.ledger.Append(rep); err != nil {
			logger.Warn("run ledger append failed", "error", err)
		}
	}
	s.notify(ctx, rep)
	return rep, nil
}

func (s *Service) pipeline(ctx context.Context, symbols []string, opts chart.Options) ([]chart.Artifact, error) {
	if s.opts.StartURL != "" {
		if err := s.surface.Navigate(ctx, s.opts.StartURL); err != nil {
			return nil, fmt.Errorf("load chart %s: %w", s.opts.StartURL, err)
		}
	}
	// A Preparer only runs once; a freshly loaded chart needs a new one.
	if err := chart.NewPreparer(s.surface, s.sel, s.opts.Indicators, opts).Run(ctx); err != nil {
		return nil, err
	}
	return chart.NewCapturer(s.surface, s.sel, s.persister, opts).Run(ctx, symbols)
}

func (s *Service) notify(ctx context.Context, rep report.Run) {
	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	msg := notify.Message{Title: "chart capture " + string(rep.Status), Body: report.Summary(rep)}
	if rep.Status != report.StatusCompleted {
		msg.Priority = "high"
	}
	if err := s.notifier.Notify(nctx, msg); err != nil {
		slog.Warn("run notification failed", "run_id", rep.ID, "error", err)
	}
}

// ListRuns returns today's runs from the ledger.
func (s *Service) ListRuns(ctx context.Context) ([]report.Run, error) {
	if s.ledger == nil {
		return []report.Run{}, nil
	}
	return s.ledger.Today()
}

// --- Snapshot methods ---

func (s *Service) requireSnapshots() error {
	if s.snaps == nil {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeSnapshotNotFound, Message: "local snapshot storage is disabled"}
	}
	return nil
}

func (s *Service) ListSnapshots(ctx context.Context, symbol string) ([]snapshot.Meta, error) {
	if err := s.requireSnapshots(); err != nil {
		return nil, err
	}
	return s.snaps.List(strings.TrimSpace(symbol))
}

func (s *Service) GetSnapshot(ctx context.Context, id string) (snapshot.Meta, error) {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return snapshot.Meta{}, err
	}
	if err := s.requireSnapshots(); err != nil {
		return snapshot.Meta{}, err
	}

	meta, err := s.snaps.Get(strings.TrimSpace(id))
	if err != nil {
		return snapshot.Meta{}, snapshotErr(err)
	}
	return meta, nil
}

func (s *Service) ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error) {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return nil, "", err
	}
	if err := s.requireSnapshots(); err != nil {
		return nil, "", err
	}

	data, format, err := s.snaps.ReadImage(strings.TrimSpace(id))
	if err != nil {
		return nil, "", snapshotErr(err)
	}
	return data, format, nil
}

func (s *Service) DeleteSnapshot(ctx context.Context, id string) error {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return err
	}
	if err := s.requireSnapshots(); err != nil {
		return err
	}

	if err := s.snaps.Delete(strings.TrimSpace(id)); err != nil {
		return snapshotErr(err)
	}
	return nil
}

func snapshotErr(err error) error {
	if errors.Is(err, snapshot.ErrNotFound) {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeSnapshotNotFound, Message: err.Error()}
	}
	if errors.Is(err, snapshot.ErrInvalidID) {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: err.Error()}
	}
	return err
}

func cleanSymbols(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
