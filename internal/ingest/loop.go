// Package ingest runs the polling loop that turns newly arrived transaction
// files into exception reports exactly once.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/txn-audit/internal/fetcher"
	"github.com/sells-group/txn-audit/internal/ledger"
	"github.com/sells-group/txn-audit/internal/model"
	"github.com/sells-group/txn-audit/internal/normalize"
	"github.com/sells-group/txn-audit/internal/report"
	"github.com/sells-group/txn-audit/internal/rules"
)

// Defaults for Config fields left zero.
const (
	DefaultPattern      = "*.csv"
	DefaultPollInterval = 3 * time.Second
)

// Config is the session configuration of one loop.
type Config struct {
	WatchDir     string
	ReportDir    string
	Pattern      string
	PollInterval time.Duration
	SampleRows   int
	ReportPrefix string
	Charset      string
}

func (c Config) withDefaults() Config {
	if c.Pattern == "" {
		c.Pattern = DefaultPattern
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SampleRows <= 0 {
		c.SampleRows = report.DefaultSampleRows
	}
	return c
}

// EnsureDirs creates the watch and report directories if absent.
func EnsureDirs(cfg Config) error {
	for _, dir := range []string{cfg.WatchDir, cfg.ReportDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "ingest: create %s", dir)
		}
	}
	return nil
}

// ReportWriter persists a report and names it.
type ReportWriter interface {
	PathFor(source string) string
	Write(r *model.Report) (string, error)
}

// Observer receives per-file and per-cycle outcomes, e.g. for metrics.
type Observer interface {
	FileProcessed(r *model.Report)
	FileFailed(stage model.Stage)
	CycleCompleted(candidates int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) FileProcessed(*model.Report)       {}
func (nopObserver) FileFailed(model.Stage)            {}
func (nopObserver) CycleCompleted(int, time.Duration) {}

// FileError is a failure confined to one input file. The file stays out of
// the ledger and is retried next cycle.
type FileError struct {
	Stage model.Stage
	Err   error
}

func (e *FileError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *FileError) Unwrap() error { return e.Err }

// Loop is the ingestion loop. It is the only writer of its ledger.
type Loop struct {
	cfg        Config
	ledger     *ledger.Ledger
	normalizer *normalize.Normalizer
	engine     *rules.Engine
	builder    *report.Builder
	writer     ReportWriter
	observer   Observer
}

// Option customises a Loop.
type Option func(*Loop)

// WithNormalizer overrides the default normalizer.
func WithNormalizer(n *normalize.Normalizer) Option { return func(l *Loop) { l.normalizer = n } }

// WithEngine overrides the built-in rule engine.
func WithEngine(e *rules.Engine) Option { return func(l *Loop) { l.engine = e } }

// WithWriter overrides the XLSX report writer.
func WithWriter(w ReportWriter) Option { return func(l *Loop) { l.writer = w } }

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option { return func(l *Loop) { l.observer = o } }

// New creates a Loop over led.
func New(cfg Config, led *ledger.Ledger, opts ...Option) *Loop {
	cfg = cfg.withDefaults()
	l := &Loop{
		cfg:        cfg,
		ledger:     led,
		normalizer: normalize.New(nil),
		engine:     rules.NewEngine(nil),
		builder:    report.NewBuilder(cfg.SampleRows),
		writer:     report.NewWriter(cfg.ReportDir, cfg.ReportPrefix),
		observer:   nopObserver{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Config returns the effective configuration.
func (l *Loop) Config() Config { return l.cfg }

// CycleResult summarises one discovery pass.
type CycleResult struct {
	RunID      string
	Candidates int
	Processed  int
	Failed     int
}

// Run polls until ctx is cancelled. It returns nil on cancellation and a
// non-nil error only when the ledger can no longer be updated.
func (l *Loop) Run(ctx context.Context) error {
	zap.L().Info("monitoring folder",
		zap.String("watch_dir", l.cfg.WatchDir),
		zap.String("pattern", l.cfg.Pattern),
		zap.String("report_dir", l.cfg.ReportDir),
		zap.Duration("poll_interval", l.cfg.PollInterval),
		zap.Int("ledger_entries", l.ledger.Len()),
	)

	for {
		if _, err := l.RunCycle(ctx); err != nil {
			return err
		}

		timer := time.NewTimer(l.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			zap.L().Info("ingestion loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle discovers candidates and processes them one at a time in
// discovery order. A file failure is logged and recorded, then the cycle
// moves on. Only a ledger persistence fault is returned.
func (l *Loop) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	res := CycleResult{RunID: uuid.New().String()}
	log := zap.L().With(zap.String("run_id", res.RunID))

	candidates, unreadable, err := l.Discover()
	if err != nil {
		log.Error("discovery failed", zap.Error(err))
		l.observer.CycleCompleted(0, time.Since(start))
		return res, nil
	}
	res.Candidates = len(candidates)

	for _, u := range unreadable {
		res.Failed++
		l.recordFailure(ctx, log, Candidate{ID: model.FileID{Name: u.Name}}, u.Err)
	}

	for _, c := range candidates {
		// Cancellation is honoured between files, never inside one.
		if ctx.Err() != nil {
			break
		}

		log.Info("processing file", zap.String("file", c.ID.Name), zap.String("checksum", c.ID.Checksum))
		entry, err := l.ProcessFile(ctx, c)
		if err == nil {
			res.Processed++
			log.Info("report generated",
				zap.String("file", entry.Name),
				zap.String("report", entry.ReportPath),
				zap.Int("rows", entry.Rows),
				zap.Int("exceptions", entry.Exceptions),
			)
			continue
		}

		if eris.Is(err, ledger.ErrPersist) {
			log.Error("ledger persistence failed; stopping", zap.String("file", c.ID.Name), zap.Error(err))
			return res, err
		}

		res.Failed++
		l.recordFailure(ctx, log, c, err)
	}

	l.observer.CycleCompleted(res.Candidates, time.Since(start))
	if res.Candidates > 0 {
		log.Info("cycle complete",
			zap.Int("candidates", res.Candidates),
			zap.Int("processed", res.Processed),
			zap.Int("failed", res.Failed),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return res, nil
}

func (l *Loop) recordFailure(ctx context.Context, log *zap.Logger, c Candidate, err error) {
	stage := model.StageRead
	var fe *FileError
	if errors.As(err, &fe) {
		stage = fe.Stage
	}
	l.observer.FileFailed(stage)
	log.Error("file failed",
		zap.String("file", c.ID.Name),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)

	ferr := l.ledger.Fail(context.WithoutCancel(ctx), model.FailureEntry{
		Name:     c.ID.Name,
		Checksum: c.ID.Checksum,
		Stage:    stage,
		Error:    err.Error(),
	})
	if ferr != nil {
		log.Warn("could not record failure", zap.String("file", c.ID.Name), zap.Error(ferr))
	}
}

// ProcessFile runs the full pipeline for one candidate and records it in the
// ledger. The identity recorded is that of the bytes actually processed. Once
// started, the file runs to completion regardless of ctx cancellation.
func (l *Loop) ProcessFile(ctx context.Context, c Candidate) (model.LedgerEntry, error) {
	ctx = context.WithoutCancel(ctx)

	data, err := os.ReadFile(c.Path)
	if err != nil {
		return model.LedgerEntry{}, &FileError{Stage: model.StageRead, Err: eris.Wrapf(err, "ingest: read %s", c.Path)}
	}
	id := model.FileID{Name: c.ID.Name, Checksum: Checksum(data)}

	rep, err := l.Evaluate(ctx, c.ID.Name, data)
	if err != nil {
		return model.LedgerEntry{}, err
	}

	path, err := l.writer.Write(rep)
	if err != nil {
		return model.LedgerEntry{}, &FileError{Stage: model.StageWrite, Err: err}
	}

	entry := model.LedgerEntry{
		Name:       id.Name,
		Checksum:   id.Checksum,
		Size:       int64(len(data)),
		ModTime:    c.ModTime,
		ReportPath: path,
		Rows:       rep.Stats.Rows,
		Exceptions: len(rep.Exceptions),
	}
	if err := l.ledger.Add(ctx, entry); err != nil {
		return model.LedgerEntry{}, err
	}
	l.observer.FileProcessed(rep)
	return entry, nil
}

// Evaluate decodes, normalizes and evaluates file content and assembles its
// report without writing it. Errors are *FileError tagged with the failing
// stage.
func (l *Loop) Evaluate(ctx context.Context, name string, data []byte) (*model.Report, error) {
	batch, err := fetcher.DecodeBatch(ctx, name, data, fetcher.BatchOptions{Charset: l.cfg.Charset})
	if err != nil {
		return nil, &FileError{Stage: model.StageRead, Err: err}
	}

	ds, err := l.normalizer.Normalize(batch)
	if err != nil {
		return nil, &FileError{Stage: model.StageNormalize, Err: err}
	}
	if ds.Stats.AmountCoerced > 0 || ds.Stats.DateInvalid > 0 {
		zap.L().Warn("coerced values",
			zap.String("file", name),
			zap.Int("amount_coerced", ds.Stats.AmountCoerced),
			zap.Int("date_invalid", ds.Stats.DateInvalid),
		)
	}

	res, err := l.engine.Evaluate(ds)
	if err != nil {
		return nil, &FileError{Stage: model.StageEvaluate, Err: err}
	}

	return l.builder.Build(ds, res), nil
}
