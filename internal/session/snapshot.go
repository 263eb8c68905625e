package session

import (
	"encoding/json"
)

type Status int

const (
	Idle Status = iota
	Initializing
	Streaming
	Finalizing
	Errored
)

var statusNames = map[Status]string{
	Idle:         "idle",
	Initializing: "initializing",
	Streaming:    "streaming",
	Finalizing:   "finalizing",
	Errored:      "error",
}

var statusFromName = map[string]Status{
	"idle":         Idle,
	"initializing": Initializing,
	"streaming":    Streaming,
	"finalizing":   Finalizing,
	"error":        Errored,
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}

// Snapshot is the single process-wide projection of session status. All
// monetary and usage figures are raw integers in the ledger's smallest unit;
// Decimals tells readers how to scale them for display.
type Snapshot struct {
	Status        Status `json:"status"`
	ChargerID     string `json:"chargerId,omitempty"`
	SessionID     string `json:"sessionAccountId,omitempty"`
	MerchantID    string `json:"merchantId,omitempty"`
	TotalUsage    uint64 `json:"totalUsage"`
	TargetUsage   uint64 `json:"targetUsage"`
	DepositAmount uint64 `json:"depositAmount"`
	AccruedCost   uint64 `json:"accruedCost"`
	RefundAmount  uint64 `json:"refundAmount"`
	WalletBalance uint64 `json:"walletBalance"`
	Connected     bool   `json:"connected"`
	UpdateCount   uint64 `json:"updateCount"`
	Unit          uint8  `json:"unit"`
	Decimals      uint8  `json:"decimals"`
	LogTail       string `json:"logTail,omitempty"`
}

// ClearIdentifiers wipes the per-session identifying fields together with the
// connected flag. Billing figures from the settled session are kept so a
// late-joining observer still sees the outcome of the last session.
func (s *Snapshot) ClearIdentifiers() {
	s.ChargerID = ""
	s.SessionID = ""
	s.MerchantID = ""
	s.Connected = false
}

// HasSession reports whether the snapshot currently holds session identifiers.
func (s *Snapshot) HasSession() bool {
	return s.SessionID != ""
}
