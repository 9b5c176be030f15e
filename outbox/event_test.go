package outbox_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabforge/authsync/outbox"
)

func validColumns() map[string]any {
	return map[string]any{
		"id":             int64(12),
		"event_source":   "authsync",
		"event_type":     "RepositoryCreated",
		"event_time":     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		"payload":        []byte(`{"repository_id":1}`),
		"last_edited_by": int64(7),
		"sys_period":     `["2025-03-01 12:00:00+00",)`,
	}
}

func TestEventFromColumns(t *testing.T) {
	columns := validColumns()
	corr := uuid.New()
	columns["correlation_id_1"] = corr.String()
	columns["correlation_id_2"] = nil

	event, err := outbox.EventFromColumns(columns)
	require.NoError(t, err)

	assert.Equal(t, int64(12), event.ID)
	assert.Equal(t, "authsync", event.EventSource)
	assert.Equal(t, "RepositoryCreated", event.EventType)
	assert.Equal(t, int64(7), event.LastEditedBy)
	assert.JSONEq(t, `{"repository_id":1}`, string(event.Payload))

	require.NotNil(t, event.CorrelationID1)
	assert.Equal(t, corr, *event.CorrelationID1)
	assert.Nil(t, event.CorrelationID2)
	assert.Nil(t, event.CorrelationID3)
	assert.Equal(t, `["2025-03-01 12:00:00+00",)`, event.SysPeriod)
}

func TestEventFromColumnsIntegerWidths(t *testing.T) {
	columns := validColumns()
	columns["id"] = int32(5)
	columns["last_edited_by"] = int(9)

	event, err := outbox.EventFromColumns(columns)
	require.NoError(t, err)
	assert.Equal(t, int64(5), event.ID)
	assert.Equal(t, int64(9), event.LastEditedBy)
}

func TestEventFromColumnsMissingRequired(t *testing.T) {
	for _, name := range []string{"id", "event_source", "event_type", "event_time", "payload", "last_edited_by", "sys_period"} {
		columns := validColumns()
		delete(columns, name)

		_, err := outbox.EventFromColumns(columns)
		assert.Error(t, err, "column %q", name)
	}
}

func TestEventFromColumnsNullPayload(t *testing.T) {
	columns := validColumns()
	columns["payload"] = nil

	_, err := outbox.EventFromColumns(columns)
	assert.Error(t, err)
}

func TestEventFromColumnsWrongTypes(t *testing.T) {
	columns := validColumns()
	columns["id"] = "12"
	_, err := outbox.EventFromColumns(columns)
	assert.Error(t, err)

	columns = validColumns()
	columns["event_time"] = "2025-03-01"
	_, err = outbox.EventFromColumns(columns)
	assert.Error(t, err)

	columns = validColumns()
	columns["correlation_id_1"] = "not-a-uuid"
	_, err = outbox.EventFromColumns(columns)
	assert.Error(t, err)
}
