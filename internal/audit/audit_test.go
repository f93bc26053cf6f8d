package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/signoff/internal/trust"
)

type failingAuditor struct{}

func (failingAuditor) Record(ctx context.Context, e Event) error {
	return errors.New("disk full")
}

func TestLogAuditor(t *testing.T) {
	var buf bytes.Buffer
	a := NewLogAuditor(zerolog.New(&buf))

	e := Stamp(Event{
		Action:          ActionSignCertificate,
		Outcome:         OutcomeFailure,
		AuthorizationID: uuid.New(),
		Reason:          trust.ReasonRevoked,
		Serial:          "0A",
	}, time.Now())
	require.NoError(t, a.Record(context.Background(), e))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "warn", line["level"])
	require.Equal(t, "REVOKED", line["reason"])
	require.Equal(t, "sign_certificate", line["action"])
	require.Equal(t, "audit", line["component"])
}

func TestStamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Stamp(Event{}, now)
	require.NotEqual(t, uuid.Nil, e.ID)
	require.Equal(t, now, e.Timestamp)

	again := Stamp(e, now.Add(time.Hour))
	require.Equal(t, e.ID, again.ID)
	require.Equal(t, now, again.Timestamp)
}

func TestMulti(t *testing.T) {
	mem := NewMemoryAuditor()
	err := Multi(failingAuditor{}, mem).Record(context.Background(), Event{Action: ActionReverify})
	require.EqualError(t, err, "disk full")
	require.Len(t, mem.Events(), 1)
}
