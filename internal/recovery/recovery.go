// Package recovery salvages data from a SQLite database that no longer
// opens cleanly. Recovery is best effort: the caller only gets whatever
// rows the underlying mechanism could reconstruct.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/plexmend/plexmend/internal/db"
	"github.com/plexmend/plexmend/internal/progress"
)

var (
	// ErrRecoveryUnavailable means no recovery mechanism is present on
	// this host.
	ErrRecoveryUnavailable = errors.New("no recovery mechanism available")

	// ErrRecoveryFailed means every available mechanism ran and none
	// produced a readable database.
	ErrRecoveryFailed = errors.New("recovery failed")
)

// Strategy is one mechanism for reconstructing a damaged database into a
// fresh file at outPath.
type Strategy interface {
	Name() string
	Available() bool
	Run(ctx context.Context, damagedPath, outPath string) error
}

// Recoverer tries an ordered list of strategies until one yields a database
// that reopens cleanly.
type Recoverer struct {
	strategies []Strategy
	sink       progress.Sink
}

// New creates a Recoverer over the given strategies, tried in order.
func New(sink progress.Sink, strategies ...Strategy) *Recoverer {
	if sink == nil {
		sink = progress.Discard
	}
	return &Recoverer{strategies: strategies, sink: sink}
}

// NewDefault creates a Recoverer with the standard chain: sqlite3 .recover,
// then sqlite3 .dump as the degraded fallback. sqlite3Bin may be empty to
// use PATH lookup.
func NewDefault(sink progress.Sink, sqlite3Bin string) *Recoverer {
	if sqlite3Bin == "" {
		sqlite3Bin = "sqlite3"
	}
	return New(sink,
		&CLIStrategy{Bin: sqlite3Bin, Command: ".recover"},
		&CLIStrategy{Bin: sqlite3Bin, Command: ".dump"},
	)
}

// Recover writes a reconstructed copy of damagedPath to a new temp file and
// returns its path. The result has already passed a read-only open with
// integrity check. The caller owns the returned file.
func (r *Recoverer) Recover(ctx context.Context, damagedPath string) (string, string, error) {
	available := 0
	for _, s := range r.strategies {
		if !s.Available() {
			r.sink.Line("recovery strategy %s unavailable, skipping", s.Name())
			continue
		}
		available++

		out, err := os.CreateTemp("", "plexmend-recover-*.db")
		if err != nil {
			return "", "", fmt.Errorf("failed to create recovery output: %w", err)
		}
		outPath := out.Name()
		out.Close()
		os.Remove(outPath)

		r.sink.Line("attempting recovery via %s", s.Name())
		if err := s.Run(ctx, damagedPath, outPath); err != nil {
			r.sink.Line("recovery via %s failed: %v", s.Name(), err)
			os.Remove(outPath)
			continue
		}

		recovered, err := db.OpenReadOnly(outPath)
		if err != nil {
			r.sink.Line("recovered database from %s is unreadable: %v", s.Name(), err)
			os.Remove(outPath)
			continue
		}
		recovered.Close()

		r.sink.Line("recovered database via %s", s.Name())
		return outPath, s.Name(), nil
	}

	if available == 0 {
		return "", "", ErrRecoveryUnavailable
	}
	return "", "", fmt.Errorf("%w: %s", ErrRecoveryFailed, damagedPath)
}

// CLIStrategy shells out to the sqlite3 CLI, feeding the SQL emitted by a
// dot command (".recover" or ".dump") into a fresh database.
type CLIStrategy struct {
	Bin     string
	Command string
}

// Name implements Strategy.
func (s *CLIStrategy) Name() string {
	return fmt.Sprintf("sqlite3 %s", s.Command)
}

// Available implements Strategy.
func (s *CLIStrategy) Available() bool {
	_, err := exec.LookPath(s.Bin)
	return err == nil
}

// Run implements Strategy. The dot command writes SQL to stdout; a second
// sqlite3 invocation replays it into outPath.
func (s *CLIStrategy) Run(ctx context.Context, damagedPath, outPath string) error {
	dump := exec.CommandContext(ctx, s.Bin, damagedPath, s.Command)
	sqlScript, err := dump.Output()
	if err != nil {
		return fmt.Errorf("%s on %s: %w", s.Name(), damagedPath, err)
	}
	if len(sqlScript) == 0 {
		return fmt.Errorf("%s on %s produced no SQL", s.Name(), damagedPath)
	}

	restore := exec.CommandContext(ctx, s.Bin, outPath)
	stdin, err := restore.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin for restore: %w", err)
	}
	if err := restore.Start(); err != nil {
		return fmt.Errorf("failed to start restore: %w", err)
	}
	if _, err := stdin.Write(sqlScript); err != nil {
		stdin.Close()
		restore.Wait()
		return fmt.Errorf("failed to feed recovered SQL: %w", err)
	}
	stdin.Close()
	if err := restore.Wait(); err != nil {
		return fmt.Errorf("failed to rebuild database from recovered SQL: %w", err)
	}
	return nil
}
