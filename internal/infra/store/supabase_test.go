package store

import (
	"testing"
	"time"

	"chatalert/internal/domain/alert"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowRoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)
	in := &alert.Log{
		ID:             "a1",
		SessionID:      "s1",
		ViewerID:       "admin-1",
		ConversationID: "42",
		Tag:            "chat-42",
		Title:          "New message from B",
		Body:           "hi",
		Status:         alert.StatusShown,
		CreatedAt:      created,
		UpdatedAt:      created,
	}

	row := logToRow(in)
	assert.Nil(t, row.ErrorMessage)
	assert.Equal(t, "shown", row.Status)

	out := rowToLog(&row)
	assert.Equal(t, in, out)
}

func TestRowToLog_Timestamps(t *testing.T) {
	dismissed := "2024-05-01T12:00:05.5+00:00"
	garbage := "yesterday"
	errMsg := "host refused"

	log := rowToLog(&alertRow{
		ID:           "a1",
		Status:       "dismissed",
		ErrorMessage: &errMsg,
		CreatedAt:    "2024-05-01T12:00:00Z",
		DismissedAt:  &dismissed,
		ActivatedAt:  &garbage,
	})

	require.NotNil(t, log.DismissedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 5, 500000000, time.UTC), log.DismissedAt.UTC())
	assert.Nil(t, log.ActivatedAt)
	assert.Equal(t, "host refused", log.ErrorMessage)
	assert.Equal(t, alert.StatusDismissed, log.Status)
	assert.True(t, log.UpdatedAt.IsZero())
}
