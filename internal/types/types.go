package types

// JobSnapshot is the externally readable view of job progress. It is owned
// by a single writer; observers always receive a copy.
type JobSnapshot struct {
	Handle              string   `json:"handle"`
	State               string   `json:"state"`
	OverallFraction     float64  `json:"overall_fraction"`      // files processed / total files
	CurrentFileFraction float64  `json:"current_file_fraction"` // latest per-file percentage / 100
	Speed               string   `json:"speed"`
	ETA                 string   `json:"eta"`
	BytesTransferred    uint64   `json:"bytes_transferred"`
	FilesTransferred    uint64   `json:"files_transferred"`
	TotalFiles          uint64   `json:"total_files"`
	Log                 []string `json:"log"`
	Errors              []string `json:"errors"`
	Finished            bool     `json:"finished"`
}
