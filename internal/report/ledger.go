package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const ledgerFile = "runs.jsonl"

// Ledger appends run reports as JSON lines to <dir>/<yyyy-mm-dd>/runs.jsonl.
// Files are rotated by lumberjack once they exceed maxSizeMB.
type Ledger struct {
	baseDir   string
	maxSizeMB int
	now       func() time.Time

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

func NewLedger(baseDir string, maxSizeMB int) *Ledger {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &Ledger{baseDir: baseDir, maxSizeMB: maxSizeMB, now: time.Now}
}

// Append writes one run. The date directory follows the UTC wall clock at
// write time, not the run's start.
func (l *Ledger) Append(r Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", r.ID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	date := l.now().UTC().Format(time.DateOnly)
	if l.logger == nil || date != l.currentDate {
		if err := l.rotateForDate(date); err != nil {
			return err
		}
	}
	if _, err := l.logger.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write run %s: %w", r.ID, err)
	}
	slog.Debug("run ledger append", "run_id", r.ID, "file", l.logger.Filename)
	return nil
}

// Day returns the runs recorded on the given UTC date, oldest first. A day
// without a ledger yields no runs.
func (l *Ledger) Day(day time.Time) ([]Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.baseDir, day.UTC().Format(time.DateOnly), ledgerFile)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Run{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	defer f.Close()

	runs := []Run{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r Run
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			slog.Warn("run ledger skipping malformed line", "file", path, "line", line, "error", err)
			continue
		}
		runs = append(runs, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read run ledger: %w", err)
	}
	return runs, nil
}

// Today is Day for the current date.
func (l *Ledger) Today() ([]Run, error) {
	return l.Day(l.now())
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logger == nil {
		return nil
	}
	err := l.logger.Close()
	l.logger = nil
	return err
}

func (l *Ledger) rotateForDate(date string) error {
	if l.logger != nil {
		if err := l.logger.Close(); err != nil {
			slog.Warn("run ledger close failed", "file", l.logger.Filename, "error", err)
		}
	}

	dir := filepath.Join(l.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run ledger dir: %w", err)
	}

	l.logger = &lumberjack.Logger{
		Filename:   filepath.Join(dir, ledgerFile),
		MaxSize:    l.maxSizeMB,
		MaxBackups: 10,
		MaxAge:     90,
		LocalTime:  false,
	}
	l.currentDate = date
	slog.Info("run ledger opened", "file", l.logger.Filename)
	return nil
}
