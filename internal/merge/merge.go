// Package merge reconciles an older, structurally sound base snapshot with
// a newer, possibly damaged snapshot into a single output database. The
// base is copied wholesale; rows from the newer snapshot are appended only
// when their natural key (guid) resolves against the base.
package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/plexmend/plexmend/internal/db"
	"github.com/plexmend/plexmend/internal/match"
	"github.com/plexmend/plexmend/internal/progress"
	"github.com/plexmend/plexmend/internal/recovery"
	"github.com/plexmend/plexmend/internal/remap"
)

var (
	// ErrSourceDamaged means the newer snapshot cannot be opened in any
	// usable form.
	ErrSourceDamaged = errors.New("newer snapshot damaged")

	// ErrOutputExists means the output path is already occupied and
	// overwrite was not requested.
	ErrOutputExists = errors.New("output already exists")
)

// Default dedup keys. History events repeat legitimately across time, so
// the timestamp is part of the key; settings are logically one row per
// (account, item).
var (
	DefaultHistoryDedupKey  = []string{"guid", "viewed_at", "account_id"}
	DefaultSettingsDedupKey = []string{"guid", "account_id"}
)

// Tables receiving copied rows during the items stage, in copy order.
var subtreeTables = []string{"metadata_items", "media_items", "media_parts", "media_streams"}

// Options configures one merge run.
type Options struct {
	BasePath   string
	NewerPath  string
	OutputPath string

	// Recover enables the recovery chain when the newer snapshot fails
	// to open.
	Recover bool

	// MergeNewItems enables copying net-new catalog items and their
	// media subtrees.
	MergeNewItems bool

	// DryRun classifies every row and fills the report without writing
	// anything: no output file, no inserts.
	DryRun bool

	// Overwrite allows replacing an existing output file.
	Overwrite bool

	HistoryDedupKey  []string
	SettingsDedupKey []string

	// Sqlite3Bin overrides the sqlite3 CLI used for recovery.
	Sqlite3Bin string

	// RecoverTimeout bounds the recovery chain. Zero means no limit.
	RecoverTimeout time.Duration

	// Recoverer overrides the default recovery chain. Used by tests.
	Recoverer *recovery.Recoverer

	Sink progress.Sink
}

type run struct {
	opts   Options
	sink   progress.Sink
	report *Report

	index *match.Index
	alloc *remap.Allocator
	out   db.Executor
}

// Run executes a full merge. On any failure after the base copy the output
// file is removed: a partial merge must never be mistaken for a usable
// database. The returned report carries the terminal state even on error.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if len(opts.HistoryDedupKey) == 0 {
		opts.HistoryDedupKey = DefaultHistoryDedupKey
	}
	if len(opts.SettingsDedupKey) == 0 {
		opts.SettingsDedupKey = DefaultSettingsDedupKey
	}
	transcript := &progress.MemorySink{}
	sink := opts.Sink
	if sink == nil {
		sink = transcript
	} else {
		sink = progress.Tee(sink, transcript)
	}

	report := &Report{
		RunID:      uuid.New().String(),
		BasePath:   opts.BasePath,
		NewerPath:  opts.NewerPath,
		OutputPath: opts.OutputPath,
		State:      StateInit,
		DryRun:     opts.DryRun,
		StartedAt:  time.Now(),
	}
	defer func() {
		report.Elapsed = time.Since(report.StartedAt)
		report.Transcript = transcript.Lines()
	}()

	r := &run{opts: opts, sink: sink, report: report}
	if err := r.execute(ctx); err != nil {
		report.State = StateFailed
		return report, err
	}
	return report, nil
}

func (r *run) execute(ctx context.Context) error {
	r.sink.Line("run %s: merging %s + %s -> %s", r.report.RunID, r.opts.BasePath, r.opts.NewerPath, r.opts.OutputPath)

	baseDB, err := db.OpenReadOnly(r.opts.BasePath)
	if err != nil {
		return fmt.Errorf("base snapshot: %w", err)
	}
	defer baseDB.Close()

	r.index, err = match.BuildIndex(baseDB)
	if err != nil {
		return fmt.Errorf("failed to index base snapshot: %w", err)
	}
	r.sink.Line("indexed base: %d guids, %d sections", r.index.GUIDCount(), r.index.SectionCount())

	newerDB, cleanup, err := r.openNewer(ctx)
	if err != nil {
		return err
	}
	// The handle must close before the recovered temp file is removed.
	if cleanup != nil {
		defer cleanup()
	}
	defer newerDB.Close()

	var tx *sql.Tx
	if r.opts.DryRun {
		// The output would start as a byte copy of the base, so the
		// base answers every read the passes make; write gating in the
		// passes keeps it untouched.
		r.sink.Line("dry run: classifying without writing")
		r.out = baseDB
	} else {
		// Init -> BaseCopied. The output starts as a byte copy of the
		// base, so nothing in the base can be lost no matter what
		// happens later.
		if err := copyFile(r.opts.BasePath, r.opts.OutputPath, r.opts.Overwrite); err != nil {
			return err
		}
		r.report.State = StateBaseCopied
		r.sink.Line("created output copy of base at %s", r.opts.OutputPath)

		outDB, err := db.Open(r.opts.OutputPath)
		if err != nil {
			r.discardOutput()
			return fmt.Errorf("failed to open output: %w", err)
		}
		defer outDB.Close()

		tx, err = outDB.Begin()
		if err != nil {
			r.discardOutput()
			return fmt.Errorf("failed to begin output transaction: %w", err)
		}
		defer tx.Rollback()
		r.out = tx
	}

	r.alloc, err = remap.NewAllocator(r.out, subtreeTables)
	if err != nil {
		r.discardOutput()
		return err
	}

	if err := r.mergeHistory(newerDB); err != nil {
		r.discardOutput()
		return err
	}
	r.report.State = StateHistoryMerged
	r.sink.Line("merged watch history: %d added, %d orphaned, %d duplicate",
		r.report.Views.Merged, r.report.Views.Orphaned, r.report.Views.Duplicate)

	if err := r.mergeSettings(newerDB); err != nil {
		r.discardOutput()
		return err
	}
	r.report.State = StateSettingsMerged
	r.sink.Line("merged item settings: %d added, %d orphaned, %d duplicate",
		r.report.Settings.Merged, r.report.Settings.Orphaned, r.report.Settings.Duplicate)

	if r.opts.MergeNewItems {
		if err := r.mergeItems(newerDB); err != nil {
			r.discardOutput()
			return err
		}
		r.report.State = StateItemsMerged
		r.sink.Line("merged new items: %d metadata items (%d media items, %d parts, %d streams), %d skipped",
			r.report.Items.Merged, r.report.MediaItems, r.report.MediaParts,
			r.report.MediaStreams, r.report.Items.UnknownSection)
	}

	if r.opts.DryRun {
		r.report.State = StatePreviewed
		r.sink.Line("run %s previewed, nothing written", r.report.RunID)
		return nil
	}

	// Terminal transition: everything since the base copy commits
	// atomically.
	if err := tx.Commit(); err != nil {
		r.discardOutput()
		return fmt.Errorf("failed to commit merge: %w", err)
	}
	r.report.State = StateCommitted
	r.sink.Line("run %s committed", r.report.RunID)
	return nil
}

// openNewer opens the newer snapshot, falling back to the recovery chain
// when enabled. The returned cleanup removes the recovered temp file, if
// any.
func (r *run) openNewer(ctx context.Context) (*db.DB, func(), error) {
	newerDB, err := db.OpenReadOnly(r.opts.NewerPath)
	if err == nil {
		return newerDB, nil, nil
	}

	if !r.opts.Recover {
		return nil, nil, fmt.Errorf("%w: %s: %v (re-run with recovery enabled)", ErrSourceDamaged, r.opts.NewerPath, err)
	}

	r.sink.Line("newer snapshot unreadable, attempting recovery: %v", err)
	recoverer := r.opts.Recoverer
	if recoverer == nil {
		recoverer = recovery.NewDefault(r.sink, r.opts.Sqlite3Bin)
	}

	if r.opts.RecoverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RecoverTimeout)
		defer cancel()
	}

	recoveredPath, strategy, rerr := recoverer.Recover(ctx, r.opts.NewerPath)
	if rerr != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrSourceDamaged, r.opts.NewerPath, rerr)
	}

	recoveredDB, err := db.OpenReadOnly(recoveredPath)
	if err != nil {
		os.Remove(recoveredPath)
		return nil, nil, fmt.Errorf("%w: recovered copy unreadable: %v", ErrSourceDamaged, err)
	}

	r.report.Recovered = true
	r.report.RecoveryStrategy = strategy
	cleanup := func() { os.Remove(recoveredPath) }
	return recoveredDB, cleanup, nil
}

// discardOutput removes the output file after a failure so a half-written
// merge is never left behind.
func (r *run) discardOutput() {
	if r.opts.DryRun || r.report.State == StateInit {
		return
	}
	if err := os.Remove(r.opts.OutputPath); err != nil && !os.IsNotExist(err) {
		r.sink.Line("warning: failed to remove incomplete output %s: %v", r.opts.OutputPath, err)
	}
}

func copyFile(src, dst string, overwrite bool) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open base for copy: %w", err)
	}
	defer in.Close()

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	out, err := os.OpenFile(dst, flags, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrOutputExists, dst)
		}
		return fmt.Errorf("failed to create output: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy base to output: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to finalize output copy: %w", err)
	}
	return nil
}
