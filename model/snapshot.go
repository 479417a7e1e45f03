package model

// Snapshot is the pull view of the log: the buffered lines, the rendered
// markup of the whole buffer and the known jobs
type Snapshot struct {
	Logs  string    `json:"logs"`
	Lines []LogLine `json:"lines"`
	// Last is the sequence number of the newest line
	Last uint64 `json:"last"`
	Jobs []Job  `json:"jobs"`
}
