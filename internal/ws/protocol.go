package ws

import (
	"github.com/flowstream/backend/internal/health"
	"github.com/flowstream/backend/internal/session"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgError    MessageType = "error"
)

// Message is the envelope pushed to subscribers. The server only ever sends;
// client frames are read for connection liveness and discarded.
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload = session.Snapshot

type ErrorPayload struct {
	Error string `json:"error"`
}

// ConnectRequest is the POST /api/connect body. DepositAmount is in the
// ledger's smallest unit.
type ConnectRequest struct {
	DepositAmount uint64 `json:"depositAmount"`
}

// HealthResponse is the GET /api/health body.
type HealthResponse struct {
	AllRunning bool                   `json:"allRunning"`
	Validators []health.ProcessStatus `json:"validators"`
}
