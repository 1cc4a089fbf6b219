package queue

import (
	"context"
	"errors"
	"testing"

	"ledgerindexer/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFailedWrites struct {
	rows   []models.FailedMirrorWrite
	marked map[uint]models.ResolutionStatus
	limit  int
}

func (f *fakeFailedWrites) OpenFailedWrites(_ context.Context, limit int) ([]models.FailedMirrorWrite, error) {
	f.limit = limit
	return f.rows, nil
}

func (f *fakeFailedWrites) MarkFailedWrite(_ context.Context, id uint, status models.ResolutionStatus) error {
	f.marked[id] = status
	return nil
}

func TestPublishFailedWrites(t *testing.T) {
	store := &fakeFailedWrites{
		rows: []models.FailedMirrorWrite{
			{ID: 1, Signature: sigA, Slot: 10},
			{ID: 2, Signature: sigB, Slot: 11},
		},
		marked: make(map[uint]models.ResolutionStatus),
	}
	pub := &fakePublisher{}

	n, err := NewRepairProducer(store, pub, 0, quietLogger()).PublishFailedWrites(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, 100, store.limit)
	assert.Equal(t, []models.SignatureMessage{
		{Signature: sigA, Slot: 10},
		{Signature: sigB, Slot: 11},
	}, pub.published)
	assert.Equal(t, map[uint]models.ResolutionStatus{1: models.ResolutionRetried, 2: models.ResolutionRetried}, store.marked)
}

func TestPublishFailedWrites_PublishErrorLeavesRowOpen(t *testing.T) {
	store := &fakeFailedWrites{
		rows:   []models.FailedMirrorWrite{{ID: 1, Signature: sigA}},
		marked: make(map[uint]models.ResolutionStatus),
	}
	pub := &fakePublisher{err: errors.New("channel closed")}

	n, err := NewRepairProducer(store, pub, 10, quietLogger()).PublishFailedWrites(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.marked)
}
