package livesync

import "time"

// Stats counts sync activity since start.
type Stats struct {
	SnapshotsSent      int       `json:"snapshots_sent"`
	SnapshotsQueued    int       `json:"snapshots_queued"`
	SnapshotsThrottled int       `json:"snapshots_throttled"`
	SnapshotsReceived  int       `json:"snapshots_received"`
	SnapshotsApplied   int       `json:"snapshots_applied"`
	SnapshotsIgnored   int       `json:"snapshots_ignored"`
	AcksSent           int       `json:"acks_sent"`
	AcksReceived       int       `json:"acks_received"`
	Conflicts          int       `json:"conflicts"`
	GamesAdopted       int       `json:"games_adopted"`
	HistoryBatchesSent int       `json:"history_batches_sent"`
	HistoryItemsMerged int       `json:"history_items_merged"`
	SendFailures       int       `json:"send_failures"`
	DecodeFailures     int       `json:"decode_failures"`
	StoreFailures      int       `json:"store_failures"`
	LastSentAt         time.Time `json:"last_sent_at,omitempty"`
	LastReceivedAt     time.Time `json:"last_received_at,omitempty"`
	LastError          string    `json:"last_error,omitempty"`
	PeerReachable      bool      `json:"peer_reachable"`
}
