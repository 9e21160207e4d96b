// Package wire defines the messages exchanged between paired devices and
// their JSON encoding.
package wire

import (
	"github.com/mcdev12/picklesync/go/internal/models"
)

// MessageType tags the payload carried by an envelope.
type MessageType string

const (
	TypeSnapshot       MessageType = "snapshot"
	TypeHistoryRequest MessageType = "historyRequest"
	TypeHistoryBatch   MessageType = "historyBatch"
	TypeAck            MessageType = "ack"
)

// Message is one of the four sync messages. Exactly one of the payload fields
// is set, matching Type; history requests and acks carry no payload.
type Message struct {
	Type     MessageType
	Snapshot *LiveSnapshot
	History  []models.GameSummary
}

func SnapshotMessage(s LiveSnapshot) Message {
	return Message{Type: TypeSnapshot, Snapshot: &s}
}

func HistoryRequest() Message {
	return Message{Type: TypeHistoryRequest}
}

func HistoryBatch(items []models.GameSummary) Message {
	if items == nil {
		items = []models.GameSummary{}
	}
	return Message{Type: TypeHistoryBatch, History: items}
}

func Ack() Message {
	return Message{Type: TypeAck}
}
