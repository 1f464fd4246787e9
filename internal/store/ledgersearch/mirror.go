// internal/store/ledgersearch/mirror.go
package ledgersearch

import (
	"context"

	"push-engine/internal/models"
)

// Recorder is the primary (postgres) ledger write surface.
type Recorder interface {
	Record(ctx context.Context, a models.DeliveryAttempt) error
}

// MirroredLedger writes attempts to the primary ledger and mirrors them
// into the search index. The mirror never fails the write.
type MirroredLedger struct {
	primary Recorder
	indexer *Indexer
}

func NewMirroredLedger(primary Recorder, indexer *Indexer) *MirroredLedger {
	return &MirroredLedger{primary: primary, indexer: indexer}
}

func (m *MirroredLedger) Record(ctx context.Context, a models.DeliveryAttempt) error {
	if err := m.primary.Record(ctx, a); err != nil {
		return err
	}
	_ = m.indexer.Index(ctx, a)
	return nil
}
