package queue

import (
	"context"
	"fmt"
	"time"

	"ledgerindexer/internal/models"
	"ledgerindexer/internal/solana"

	"github.com/sirupsen/logrus"
)

const feedMaxPages = 10

type SignatureLister interface {
	GetSignaturesForAddress(ctx context.Context, address string, opts solana.SignaturesOptions) ([]solana.SignatureInfo, error)
}

// FeedProducer polls the indexed program for new signatures and publishes
// them on the feed. Redelivery is harmless: the consumer deduplicates and the
// processor is idempotent.
type FeedProducer struct {
	ledger    SignatureLister
	publisher Publisher
	program   string
	interval  time.Duration
	limit     int
	newest    string
	log       *logrus.Logger
}

func NewFeedProducer(ledger SignatureLister, publisher Publisher, program string, interval time.Duration, limit int, log *logrus.Logger) *FeedProducer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if limit <= 0 {
		limit = 100
	}
	return &FeedProducer{
		ledger:    ledger,
		publisher: publisher,
		program:   program,
		interval:  interval,
		limit:     limit,
		log:       log,
	}
}

// ProduceNew publishes the signatures seen since the previous call, oldest
// first. The first call publishes the latest page only.
func (p *FeedProducer) ProduceNew(ctx context.Context) (int, error) {
	var fresh []solana.SignatureInfo

	before := ""
	for page := 0; page < feedMaxPages; page++ {
		sigs, err := p.ledger.GetSignaturesForAddress(ctx, p.program, solana.SignaturesOptions{
			Before: before,
			Until:  p.newest,
			Limit:  p.limit,
		})
		if err != nil {
			return 0, fmt.Errorf("list program signatures: %w", err)
		}
		fresh = append(fresh, sigs...)

		if p.newest == "" || len(sigs) < p.limit {
			break
		}
		before = sigs[len(sigs)-1].Signature
	}

	if len(fresh) == 0 {
		return 0, nil
	}

	published := 0
	for i := len(fresh) - 1; i >= 0; i-- {
		sig := fresh[i]
		if err := p.publisher.Publish(ctx, models.SignatureMessage{
			Signature: sig.Signature,
			Slot:      sig.Slot,
			BlockTime: sig.BlockTime,
		}); err != nil {
			// il cursore resta fermo: al prossimo giro si riparte da qui
			return published, fmt.Errorf("publish %s: %w", sig.Signature, err)
		}
		published++
	}
	p.newest = fresh[0].Signature

	return published, nil
}

// Start avvia il polling
func (p *FeedProducer) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.WithField("program", p.program).Info("Starting signature feed producer")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.ProduceNew(ctx)
			if err != nil {
				p.log.Errorf("Error producing signatures: %v", err)
				continue
			}
			if n > 0 {
				p.log.WithField("published", n).Debug("Published new signatures")
			}
		}
	}
}
