package projector

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatledger/internal/models"
)

func TestProjectEmptyThread(t *testing.T) {
	s := Project(nil, 0)

	assert.Empty(t, s.ThreadKey)
	assert.Empty(t, s.LastMessageID)
	assert.Nil(t, s.LastActivity)
	assert.Zero(t, s.UnreadCount)
}

func TestProjectOutgoing(t *testing.T) {
	ts := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	rec := &models.MessageRecord{
		ID:              "m1",
		ThreadKey:       "peer-1",
		Direction:       models.DirectionOutgoing,
		Kind:            models.ContentText,
		ContentRef:      "hello",
		OutgoingStatus:  models.OutgoingDelivered,
		ServerTimestamp: &ts,
		CreatedAt:       ts.Add(-time.Second),
	}

	s := Project(rec, 0)

	assert.Equal(t, "peer-1", s.ThreadKey)
	assert.Equal(t, "m1", s.LastMessageID)
	assert.Equal(t, "hello", s.Preview)
	assert.Equal(t, "delivered", s.StatusIcon)
	require.NotNil(t, s.LastActivity)
	assert.Equal(t, ts, *s.LastActivity, "server timestamp wins over creation time")
}

func TestProjectFallsBackToCreationTime(t *testing.T) {
	created := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	rec := &models.MessageRecord{
		ID:             "m1",
		ThreadKey:      "peer-1",
		Direction:      models.DirectionOutgoing,
		OutgoingStatus: models.OutgoingPending,
		CreatedAt:      created,
	}

	s := Project(rec, 0)

	require.NotNil(t, s.LastActivity)
	assert.Equal(t, created, *s.LastActivity)
}

func TestProjectStatusIcon(t *testing.T) {
	tests := []struct {
		name string
		rec  models.MessageRecord
		want string
	}{
		{
			"incoming has no icon",
			models.MessageRecord{Direction: models.DirectionIncoming, IncomingStatus: models.IncomingHaveSeen, Decrypted: true},
			"",
		},
		{
			"pending",
			models.MessageRecord{Direction: models.DirectionOutgoing, OutgoingStatus: models.OutgoingPending},
			"pending",
		},
		{
			"seen",
			models.MessageRecord{Direction: models.DirectionOutgoing, OutgoingStatus: models.OutgoingSeen},
			"seen",
		},
		{
			"played decorates seen",
			models.MessageRecord{Direction: models.DirectionOutgoing, Kind: models.ContentAudio, OutgoingStatus: models.OutgoingSeen, Played: true},
			"played",
		},
		{
			"retracting",
			models.MessageRecord{Direction: models.DirectionOutgoing, OutgoingStatus: models.OutgoingRetracting},
			"retracting",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Project(&tt.rec, 0).StatusIcon)
		})
	}
}

func TestProjectPreview(t *testing.T) {
	tests := []struct {
		name string
		rec  models.MessageRecord
		want string
	}{
		{
			"normal content",
			models.MessageRecord{Direction: models.DirectionIncoming, ContentRef: "hi", Decrypted: true},
			"hi",
		},
		{
			"undecrypted incoming is blank",
			models.MessageRecord{Direction: models.DirectionIncoming, ContentRef: "ciphertext"},
			"",
		},
		{
			"retracted incoming is blank",
			models.MessageRecord{Direction: models.DirectionIncoming, ContentRef: "hi", Decrypted: true, IncomingStatus: models.IncomingRetracted},
			"",
		},
		{
			"retracted outgoing is blank",
			models.MessageRecord{Direction: models.DirectionOutgoing, ContentRef: "hi", OutgoingStatus: models.OutgoingRetracted},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Project(&tt.rec, 0).Preview)
		})
	}
}

type recordingSummaryObserver struct {
	summaries []models.ThreadSummary
}

func (o *recordingSummaryObserver) ThreadSummaryChanged(s models.ThreadSummary) {
	o.summaries = append(o.summaries, s)
}

func TestPublishNotifiesSubscribers(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	p := New(logger)

	obs := &recordingSummaryObserver{}
	p.Subscribe(obs)

	rec := &models.MessageRecord{
		ID:             "m1",
		ThreadKey:      "peer-1",
		Direction:      models.DirectionOutgoing,
		OutgoingStatus: models.OutgoingSentOut,
		ContentRef:     "hello",
	}
	summary := p.Publish(rec, 4)

	require.Len(t, obs.summaries, 1)
	assert.Equal(t, summary, obs.summaries[0])
	assert.Equal(t, 4, summary.UnreadCount)
	assert.Equal(t, "sent_out", summary.StatusIcon)
}
