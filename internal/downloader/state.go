package downloader

// State is the orchestrator's transfer state.
type State int

const (
	StateIdle State = iota
	StateChecking
	StateProbing
	StateInProgress
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateProbing:
		return "probing"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a consistent view of the orchestrator for pollers.
type Snapshot struct {
	State               State   `json:"state"`
	CurrentFileName     string  `json:"current_file_name"`
	CurrentIndex        int     `json:"current_index"`
	ItemCount           int     `json:"item_count"`
	CurrentItemFraction float64 `json:"current_item_fraction"`
	CurrentItemBytes    int64   `json:"current_item_bytes"`
	DownloadedBytes     int64   `json:"downloaded_bytes"`
	TotalBytes          int64   `json:"total_bytes"`
	OverallFraction     float64 `json:"overall_fraction"`
	IsAllDownloaded     bool    `json:"is_all_downloaded"`
	IsChecking          bool    `json:"is_checking"`
	Error               string  `json:"error,omitempty"`
}
