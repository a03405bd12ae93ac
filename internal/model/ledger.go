package model

import "time"

// FileID identifies an input file by base name and content hash.
type FileID struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
}

// String returns "name@checksum-prefix" for log lines.
func (f FileID) String() string {
	sum := f.Checksum
	if len(sum) > 12 {
		sum = sum[:12]
	}
	return f.Name + "@" + sum
}

// LedgerEntry records an input file that has been fully reported.
type LedgerEntry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Checksum    string    `json:"checksum"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	ReportPath  string    `json:"report_path"`
	Rows        int       `json:"rows"`
	Exceptions  int       `json:"exceptions"`
	ProcessedAt time.Time `json:"processed_at"`
}

// FileID returns the identity recorded by the entry.
func (e LedgerEntry) FileID() FileID {
	return FileID{Name: e.Name, Checksum: e.Checksum}
}

// Stage names the pipeline step a file failed in.
type Stage string

const (
	StageRead      Stage = "read"
	StageNormalize Stage = "normalize"
	StageEvaluate  Stage = "evaluate"
	StageWrite     Stage = "write"
)

// FailureEntry records a failed processing attempt. Failures never mark a
// file processed; the file is retried on the next cycle.
type FailureEntry struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Checksum string    `json:"checksum"`
	Stage    Stage     `json:"stage"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}
