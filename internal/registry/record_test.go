package registry

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/deskpool/internal/models"
)

func testSession() models.Session {
	task := int64(42)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return models.Session{
		ID:             "0195f1d2-aaaa-7bbb-8ccc-000000000001",
		OwnerID:        "user-1",
		TaskID:         &task,
		Display:        3,
		VNCPort:        5903,
		WebPort:        7903,
		Status:         models.StatusActive,
		Timeout:        30 * time.Minute,
		Credential:     "Ab3dEf9h",
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

func TestRecordCodec(t *testing.T) {
	s := testSession()

	data, err := EncodeRecord(RecordFromSession(s))
	require.NoError(t, err)

	rec, err := DecodeRecord(data)
	require.NoError(t, err)
	require.Equal(t, s, rec.Session())
	require.Equal(t, int64(1800), rec.TimeoutSeconds)
}

func TestDecodeRecordRejectsTampering(t *testing.T) {
	data, err := EncodeRecord(RecordFromSession(testSession()))
	require.NoError(t, err)

	tampered := bytes.Replace(data, []byte(`"display":3`), []byte(`"display":4`), 1)
	require.NotEqual(t, data, tampered)

	_, err = DecodeRecord(tampered)
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestDecodeRecordInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "session"},
		{name: "wrong version", data: `{"v":9,"crc":0,"record":{}}`},
		{name: "empty record", data: `{"v":1,"crc":0,"record":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(tt.data))
			require.ErrorIs(t, err, ErrCorruptRecord)
		})
	}
}
