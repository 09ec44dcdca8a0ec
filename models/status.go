package models

import "time"

// ScanCheckpoint describes the last successful scan.
type ScanCheckpoint struct {
	ScanID     string    `json:"scan_id"`
	From       uint64    `json:"from"`
	To         uint64    `json:"to"`
	Cursor     uint64    `json:"cursor"`
	Forced     bool      `json:"forced"`
	Events     int       `json:"events"`
	Resolved   int       `json:"resolved"`
	FinishedAt time.Time `json:"finished_at"`
}

type SyncStatus struct {
	RPCURL      string          `json:"rpc_url"`
	Online      bool            `json:"online"`
	LatestBlock uint64          `json:"latest_block"`
	Cursor      uint64          `json:"cursor"`
	BatchSize   uint64          `json:"batch_size"`
	Scanning    bool            `json:"scanning"`
	FailedScans int             `json:"failed_scans"`
	Models      int             `json:"models"`
	LastScan    *ScanCheckpoint `json:"last_scan,omitempty"`
	LastScanErr string          `json:"last_scan_error,omitempty"`
}

type Prediction struct {
	ID        string  `json:"id"`
	ModelID   ModelID `json:"model_id"`
	Requester string  `json:"requester"`
	CID       string  `json:"cid"`
	Block     uint64  `json:"block"`
	TokenID   string  `json:"token_id"`
	TxHash    string  `json:"tx_hash"`
}
