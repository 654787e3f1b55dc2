package model

const (
	ProcessingStatusPending    = "pending"
	ProcessingStatusProcessing = "processing"
	ProcessingStatusCompleted  = "completed"
	ProcessingStatusFailed     = "failed"
)

type ProcessingResult struct {
	ID         string  `json:"id"`
	BatchID    string  `json:"batch_id"`
	MaterialID string  `json:"material_id,omitempty"`
	RawName    string  `json:"raw_name"`
	RawUnit    string  `json:"raw_unit"`
	RawPrice   float64 `json:"raw_price"`
	Status     string  `json:"status"`
	Attempts   int     `json:"attempts"`
	LastError  string  `json:"last_error,omitempty"`
	Ctime      int64   `json:"ctime"`
	Mtime      int64   `json:"mtime"`
}

const (
	BatchStatusQueued  = "queued"
	BatchStatusRunning = "running"
	BatchStatusDone    = "done"
	BatchStatusFailed  = "failed"
)

const (
	BatchSourceAPI    = "api"
	BatchSourceCLI    = "cli"
	BatchSourceUpload = "upload"
)

type BatchJob struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	FileKey   string `json:"file_key,omitempty"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Status    string `json:"status"`
	Ctime     int64  `json:"ctime"`
	Mtime     int64  `json:"mtime"`
}
