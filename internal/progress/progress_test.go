package progress_test

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/plexmend/plexmend/internal/progress"
)

func TestMemorySink(t *testing.T) {
	sink := &progress.MemorySink{}
	sink.Line("indexed %d guids", 7)
	sink.Line("done")

	lines := sink.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "indexed 7 guids" {
		t.Errorf("unexpected first line: %q", lines[0])
	}

	// Lines returns a copy.
	lines[0] = "mutated"
	if sink.Lines()[0] != "indexed 7 guids" {
		t.Error("Lines must return a copy")
	}
}

func TestMemorySinkConcurrent(t *testing.T) {
	sink := &progress.MemorySink{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sink.Line("line")
			}
		}()
	}
	wg.Wait()
	if got := len(sink.Lines()); got != 1000 {
		t.Errorf("expected 1000 lines, got %d", got)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := progress.NewLogSink(&buf, log.InfoLevel)
	sink.Line("merged %d rows", 42)

	out := buf.String()
	if !strings.Contains(out, "merged 42 rows") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "merge") {
		t.Errorf("expected prefix in output, got %q", out)
	}
}

func TestTee(t *testing.T) {
	a := &progress.MemorySink{}
	b := &progress.MemorySink{}
	sink := progress.Tee(a, b)
	sink.Line("fanned out %d", 1)

	for _, s := range []*progress.MemorySink{a, b} {
		lines := s.Lines()
		if len(lines) != 1 || lines[0] != "fanned out 1" {
			t.Errorf("unexpected lines: %v", lines)
		}
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic; there is no other observable behavior.
	progress.Discard.Line("dropped %d", 1)
}
