package reconcile

//go:generate mockgen -source=authority.go -destination=mocks/mocks.go -package=mocks Authority

import (
	"context"

	"github.com/roach88/rollcall/internal/model"
)

// Authority receives pushed batches. The HTTP client in internal/transport
// implements it for remote authorities; LocalAuthority adapts an Importer
// in-process.
type Authority interface {
	// Push delivers batch and returns the authority's acknowledgement. An
	// error means the batch was not applied.
	Push(ctx context.Context, batch model.Batch) (model.Ack, error)
}

// LocalAuthority applies pushed batches to an Importer in the same process.
type LocalAuthority struct {
	Importer *Importer
}

// Push implements Authority.
func (a LocalAuthority) Push(ctx context.Context, batch model.Batch) (model.Ack, error) {
	return a.Importer.ImportBatch(ctx, batch)
}
