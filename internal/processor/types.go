package processor

import (
	"imgslim/internal/config"
	"imgslim/internal/transcode"
)

// State is where an image got to in a run. Failed is terminal.
type State int

const (
	StateDiscovered State = iota
	StateBackedUp
	StateTranscoded
	StateDeleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateBackedUp:
		return "backed-up"
	case StateTranscoded:
		return "transcoded"
	case StateDeleted:
		return "converted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Options struct {
	Config     config.Config
	Transcoder transcode.Transcoder
}

type Job struct {
	Path    string
	RelPath string
}

// Result is the per-image record of a run.
type Result struct {
	Path        string
	RelPath     string
	Dest        string
	DestRelPath string
	State       State
	// Reached is the last state before a failure.
	Reached     State
	BackedUp    bool
	BytesBefore int64
	BytesAfter  int64
	Err         error
}

// Saving is (1 - after/before) * 100, the same measure as Summary.Percent.
// A file that grew has a negative saving.
func (r Result) Saving() float64 {
	return saving(r.BytesBefore, r.BytesAfter)
}

type Summary struct {
	Root      string
	BackupDir string

	Total       int
	Converted   int
	Failed      int
	BytesBefore int64
	BytesAfter  int64

	// Renames maps old to new root-relative slash paths.
	Renames map[string]string
	Results []Result

	MarkupScanned int
	MarkupUpdated int
	MarkupErrors  int
	UpdatedMarkup []string

	NothingToDo bool
	Interrupted bool
}

// Percent is the overall saving, (1 - after/before) * 100.
func (s Summary) Percent() float64 {
	return saving(s.BytesBefore, s.BytesAfter)
}

func saving(before, after int64) float64 {
	if before == 0 {
		return 0
	}
	return (1 - float64(after)/float64(before)) * 100
}

type UpdateKind int

const (
	UpdateFound UpdateKind = iota
	UpdateImage
	UpdateMarkupStart
	UpdateMarkup
	UpdateMarkupError
)

type ProgressUpdate struct {
	Kind UpdateKind
	// Total is the image count for UpdateFound and the markup file count
	// for UpdateMarkupStart.
	Total      int
	Image      *Result
	Markup     string
	References int
	Err        error
}
