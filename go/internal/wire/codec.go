package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/picklesync/go/internal/models"
)

// MaxMessageSize bounds a single encoded message. History is split into
// several batches to stay under it.
const MaxMessageSize = 64 * 1024

var (
	ErrEncodingFailed = errors.New("sync message encoding failed")
	ErrDecodingFailed = errors.New("sync message decoding failed")
)

// Envelope is the on-the-wire form: a type tag and one payload.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serializes m into an envelope.
func Encode(m Message) ([]byte, error) {
	var payload any
	switch m.Type {
	case TypeSnapshot:
		if m.Snapshot == nil {
			return nil, fmt.Errorf("%w: snapshot message without snapshot", ErrEncodingFailed)
		}
		payload = m.Snapshot
	case TypeHistoryBatch:
		items := m.History
		if items == nil {
			items = []models.GameSummary{}
		}
		payload = items
	case TypeHistoryRequest, TypeAck:
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrEncodingFailed, m.Type)
	}

	env := Envelope{Type: m.Type}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
		}
		env.Data = data
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	if len(out) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %s message is %d bytes, limit %d", ErrEncodingFailed, m.Type, len(out), MaxMessageSize)
	}
	return out, nil
}

// Decode parses an envelope. Unknown types, unknown fields, a missing payload
// or an unexpected one all fail with ErrDecodingFailed.
func Decode(data []byte) (Message, error) {
	if len(data) > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: message is %d bytes, limit %d", ErrDecodingFailed, len(data), MaxMessageSize)
	}

	var env Envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: envelope: %v", ErrDecodingFailed, err)
	}

	hasData := len(env.Data) > 0 && !bytes.Equal(bytes.TrimSpace(env.Data), []byte("null"))

	switch env.Type {
	case TypeSnapshot:
		if !hasData {
			return Message{}, fmt.Errorf("%w: snapshot without payload", ErrDecodingFailed)
		}
		var s LiveSnapshot
		if err := strictUnmarshal(env.Data, &s); err != nil {
			return Message{}, fmt.Errorf("%w: snapshot: %v", ErrDecodingFailed, err)
		}
		return SnapshotMessage(s), nil

	case TypeHistoryBatch:
		if !hasData {
			return Message{}, fmt.Errorf("%w: history batch without payload", ErrDecodingFailed)
		}
		var items []models.GameSummary
		if err := strictUnmarshal(env.Data, &items); err != nil {
			return Message{}, fmt.Errorf("%w: history batch: %v", ErrDecodingFailed, err)
		}
		return HistoryBatch(items), nil

	case TypeHistoryRequest, TypeAck:
		if hasData {
			return Message{}, fmt.Errorf("%w: %s carries a payload", ErrDecodingFailed, env.Type)
		}
		return Message{Type: env.Type}, nil

	default:
		return Message{}, fmt.Errorf("%w: unknown message type %q", ErrDecodingFailed, env.Type)
	}
}

// EncodeHistory encodes completed games as one or more history batches of at
// most batchSize items. A batch that would exceed MaxMessageSize is split
// further. An empty history still yields one empty batch.
func EncodeHistory(items []models.GameSummary, batchSize int) ([][]byte, error) {
	if len(items) == 0 {
		data, err := Encode(HistoryBatch(nil))
		if err != nil {
			return nil, err
		}
		return [][]byte{data}, nil
	}

	var out [][]byte
	for _, chunk := range ChunkHistory(items, batchSize) {
		encoded, err := encodeChunk(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded...)
	}
	return out, nil
}

func encodeChunk(chunk []models.GameSummary) ([][]byte, error) {
	data, err := Encode(HistoryBatch(chunk))
	if err == nil {
		return [][]byte{data}, nil
	}
	if len(chunk) <= 1 {
		return nil, err
	}
	mid := len(chunk) / 2
	left, err := encodeChunk(chunk[:mid])
	if err != nil {
		return nil, err
	}
	right, err := encodeChunk(chunk[mid:])
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// ChunkHistory splits items into consecutive batches of at most size items.
func ChunkHistory(items []models.GameSummary, size int) [][]models.GameSummary {
	if size <= 0 {
		size = len(items)
	}
	var chunks [][]models.GameSummary
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}
