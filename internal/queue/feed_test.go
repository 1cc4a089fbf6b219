package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ledgerindexer/internal/solana"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister serves signatures newest first and honours Before and Until.
type fakeLister struct {
	sigs []solana.SignatureInfo
}

func (l *fakeLister) add(n int) {
	start := len(l.sigs)
	for i := 0; i < n; i++ {
		slot := uint64(start + i + 1)
		l.sigs = append([]solana.SignatureInfo{{Signature: fmt.Sprintf("s%d", slot), Slot: slot}}, l.sigs...)
	}
}

func (l *fakeLister) GetSignaturesForAddress(_ context.Context, _ string, opts solana.SignaturesOptions) ([]solana.SignatureInfo, error) {
	var out []solana.SignatureInfo
	started := opts.Before == ""
	for _, s := range l.sigs {
		if !started {
			started = s.Signature == opts.Before
			continue
		}
		if s.Signature == opts.Until {
			break
		}
		if len(out) == opts.Limit {
			break
		}
		out = append(out, s)
	}
	return out, nil
}

func signatures(pub *fakePublisher) []string {
	var out []string
	for _, m := range pub.published {
		out = append(out, m.Signature)
	}
	return out
}

func TestFeedProducer_PublishesOnlyNewSignatures(t *testing.T) {
	ledger := &fakeLister{}
	ledger.add(5)
	pub := &fakePublisher{}
	p := NewFeedProducer(ledger, pub, "Program", 0, 3, quietLogger())
	ctx := context.Background()

	n, err := p.ProduceNew(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"s3", "s4", "s5"}, signatures(pub))

	n, err = p.ProduceNew(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// more than one page arrived in between
	ledger.add(7)
	pub.published = nil
	n, err = p.ProduceNew(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, []string{"s6", "s7", "s8", "s9", "s10", "s11", "s12"}, signatures(pub))
}

func TestFeedProducer_PublishFailureKeepsCursor(t *testing.T) {
	ledger := &fakeLister{}
	ledger.add(2)
	pub := &fakePublisher{err: errors.New("channel closed")}
	p := NewFeedProducer(ledger, pub, "Program", 0, 10, quietLogger())

	_, err := p.ProduceNew(context.Background())
	require.Error(t, err)

	pub.err = nil
	n, err := p.ProduceNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
