package pipeline

import (
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/plexload/pkg/config"
	"github.com/ajitpratap0/plexload/pkg/loader"
	"github.com/ajitpratap0/plexload/pkg/plexerrors"
	"github.com/ajitpratap0/plexload/pkg/progress"
)

// Report summarizes a run. After a failure Rows holds exactly what the
// target contains.
type Report struct {
	RunID   string `json:"run_id"`
	Archive string `json:"archive"`
	Target  string `json:"target"`
	Engine  string `json:"engine,omitempty"`
	State   State  `json:"state"`

	ErrorKind  plexerrors.ErrorType `json:"error_kind,omitempty"`
	Error      string               `json:"error,omitempty"`
	BatchIndex int                  `json:"batch_index,omitempty"`

	Tables        int   `json:"tables"`
	FactTables    int   `json:"fact_tables"`
	TotalPoints   int64 `json:"total_points"`
	DecodedPoints int64 `json:"decoded_points"`

	Batches  int              `json:"batches"`
	FactRows int64            `json:"fact_rows"`
	Rows     map[string]int64 `json:"rows"`

	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

func newReport(runID string, cfg *config.Config) *Report {
	return &Report{
		RunID:     runID,
		Archive:   cfg.Input.Path,
		Target:    cfg.Target.Location,
		State:     StateIdle,
		Rows:      map[string]int64{},
		StartedAt: time.Now().UTC(),
	}
}

func (r *Report) complete(state State, stats loader.Stats, snap progress.Snapshot, err error) {
	r.State = state
	r.Batches = stats.Batches
	r.FactRows = stats.FactRows
	r.Rows = stats.Rows
	r.DecodedPoints = snap.DecodedPoints
	r.DurationSeconds = time.Since(r.StartedAt).Seconds()
	if err != nil {
		r.ErrorKind = plexerrors.TypeOf(err)
		r.Error = err.Error()
		if idx, ok := plexerrors.BatchIndex(err); ok {
			r.BatchIndex = idx
		}
	}
}

// Succeeded reports whether the run reached StateDone.
func (r *Report) Succeeded() bool {
	return r.State == StateDone
}

// JSON renders the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// WriteFile writes the report as JSON to path.
func (r *Report) WriteFile(path string) error {
	b, err := r.JSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644) //nolint:gosec
}
