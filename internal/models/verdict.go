package models

// ScanResult holds the engine counts returned by a remote scanning provider.
type ScanResult struct {
	Malicious  int    `json:"malicious"`
	Suspicious int    `json:"suspicious"`
	Harmless   int    `json:"harmless"`
	Undetected int    `json:"undetected"`
	Source     string `json:"source,omitempty"` // "file_analysis" or "reputation_check"
}

// Safe reports whether the result passes the safety threshold:
// no malicious engine hits and no suspicious ones.
func (r *ScanResult) Safe() bool {
	if r == nil {
		return true
	}
	return r.Malicious < 1 && r.Suspicious == 0
}

// Assessment is the pipeline's classification of one draft.
type Assessment struct {
	Blocked       bool
	Threats       []string
	Remote        *ScanResult
	RemoteScanned bool // a remote result is present, fresh or cached
	Cached        bool // the remote result came from the verdict cache
}
