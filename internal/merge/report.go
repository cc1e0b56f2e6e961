package merge

import "time"

// State is the merge run's position in its lifecycle. A run moves strictly
// forward; StateFailed is terminal and reachable from any non-terminal
// state.
type State string

const (
	StateInit           State = "init"
	StateBaseCopied     State = "base_copied"
	StateHistoryMerged  State = "history_merged"
	StateSettingsMerged State = "settings_merged"
	StateItemsMerged    State = "items_merged"
	StateCommitted      State = "committed"
	// StatePreviewed is the terminal state of a dry run: every pass
	// classified its rows but nothing was written.
	StatePreviewed State = "previewed"
	StateFailed    State = "failed"
)

// Counts tracks per-category row outcomes for one merge pass.
type Counts struct {
	Seen      int `json:"seen"`
	Merged    int `json:"merged"`
	Orphaned  int `json:"orphaned,omitempty"`
	Duplicate int `json:"duplicate,omitempty"`
	// Replaced counts rows where the newer snapshot superseded an
	// existing output row under the dedup key.
	Replaced int `json:"replaced,omitempty"`
	// UnknownSection counts catalog items skipped because their library
	// section does not exist in the base, including descendants of such
	// items.
	UnknownSection int `json:"unknown_section,omitempty"`
}

// Report summarizes one merge run for the caller. It is the only output
// surface besides the merged database itself and the progress stream.
type Report struct {
	RunID      string `json:"run_id"`
	BasePath   string `json:"base_path"`
	NewerPath  string `json:"newer_path"`
	OutputPath string `json:"output_path"`

	State  State `json:"state"`
	DryRun bool  `json:"dry_run"`

	Recovered        bool   `json:"recovered"`
	RecoveryStrategy string `json:"recovery_strategy,omitempty"`

	Views    Counts `json:"views"`
	Settings Counts `json:"settings"`
	Items    Counts `json:"items"`

	MediaItems   int `json:"media_items"`
	MediaParts   int `json:"media_parts"`
	MediaStreams int `json:"media_streams"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`

	// Transcript is the run's progress lines, mirrored off the caller's
	// sink.
	Transcript []string `json:"transcript,omitempty"`
}
