package model

// ImageTask is one discovered image after classification. It is created once
// and never mutated.
type ImageTask struct {
	Path   string    `json:"path"`
	Class  SizeClass `json:"size_class"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
}

// ImageProgress tracks where a single image is in the pipeline.
type ImageProgress struct {
	Path    string `json:"path"`
	State   string `json:"state"`
	Retries int    `json:"retries,omitempty"`
}

// Pass is one invocation of the upscaler.
type Pass struct {
	Magnification int `json:"magnification"`
	BatchSize     int `json:"batch_size"`
	SplitSize     int `json:"split_size"`
}

// RunReport is the persisted summary of one pipeline run.
type RunReport struct {
	SchemaVersion int    `json:"schema_version"`
	RunID         string `json:"run_id"`
	WorkDir       string `json:"work_dir"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at,omitempty"`
	Discovered    int    `json:"discovered"`
	Dropped       int    `json:"dropped"`
	Skipped       int    `json:"skipped"`
	Upscaled      int    `json:"upscaled"`
	Retries       int    `json:"retries"`
	Optimized     int    `json:"optimized"`
	Abandoned     int    `json:"abandoned"`
	Leftover      int    `json:"leftover"`
	SavedBytes    int64  `json:"saved_bytes"`
	Cancelled     bool   `json:"cancelled"`
	Error         string `json:"error,omitempty"`
}
