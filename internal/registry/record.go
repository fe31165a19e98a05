package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/minio/crc64nvme"
	"github.com/wolfeidau/deskpool/internal/models"
)

const recordVersion = 1

// ErrCorruptRecord indicates a mirror record failed to decode or its checksum did not match.
var ErrCorruptRecord = errors.New("corrupt session record")

// Record is the serializable projection of a session written to the mirror.
type Record struct {
	SessionID      string        `json:"session_id"`
	OwnerID        string        `json:"user_id"`
	TaskID         *int64        `json:"task_id,omitempty"`
	Display        int           `json:"display"`
	VNCPort        int           `json:"vnc_port"`
	WebPort        int           `json:"web_port"`
	Status         models.Status `json:"status"`
	Credential     string        `json:"password"`
	TimeoutSeconds int64         `json:"timeout_seconds"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
}

// RecordFromSession projects a session into its mirror record.
func RecordFromSession(s models.Session) Record {
	return Record{
		SessionID:      s.ID,
		OwnerID:        s.OwnerID,
		TaskID:         s.TaskID,
		Display:        s.Display,
		VNCPort:        s.VNCPort,
		WebPort:        s.WebPort,
		Status:         s.Status,
		Credential:     s.Credential,
		TimeoutSeconds: int64(s.Timeout / time.Second),
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
	}
}

// Session rebuilds a session from the record. Process handles are not part of a record.
func (r Record) Session() models.Session {
	return models.Session{
		ID:             r.SessionID,
		OwnerID:        r.OwnerID,
		TaskID:         r.TaskID,
		Display:        r.Display,
		VNCPort:        r.VNCPort,
		WebPort:        r.WebPort,
		Status:         r.Status,
		Timeout:        time.Duration(r.TimeoutSeconds) * time.Second,
		Credential:     r.Credential,
		CreatedAt:      r.CreatedAt,
		LastAccessedAt: r.LastAccessedAt,
	}
}

type envelope struct {
	Version  int             `json:"v"`
	Checksum uint64          `json:"crc"`
	Record   json.RawMessage `json:"record"`
}

// EncodeRecord serializes a record with a CRC64-NVME checksum over its JSON body.
func EncodeRecord(rec Record) ([]byte, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session record: %w", err)
	}

	return json.Marshal(envelope{
		Version:  recordVersion,
		Checksum: computeCRC64(body),
		Record:   body,
	})
}

// DecodeRecord parses and verifies a record produced by EncodeRecord.
func DecodeRecord(data []byte) (Record, error) {
	var (
		env envelope
		rec Record
	)

	if err := json.Unmarshal(data, &env); err != nil {
		return rec, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	if env.Version != recordVersion {
		return rec, fmt.Errorf("%w: unsupported version %d", ErrCorruptRecord, env.Version)
	}

	if got := computeCRC64(env.Record); got != env.Checksum {
		return rec, fmt.Errorf("%w: checksum mismatch (stored %x, computed %x)", ErrCorruptRecord, env.Checksum, got)
	}

	if err := json.Unmarshal(env.Record, &rec); err != nil {
		return rec, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	if rec.SessionID == "" {
		return rec, fmt.Errorf("%w: missing session id", ErrCorruptRecord)
	}

	return rec, nil
}

func computeCRC64(data []byte) uint64 {
	h := crc64nvme.New()
	h.Write(data)
	return h.Sum64()
}
