package service

import (
	"context"

	"organmatch/internal/ledger"
)

// Publisher appends committed events to the ledger. *ledger.Ledger is the
// implementation.
type Publisher interface {
	Publish(ctx context.Context, events ...ledger.Event) ([]ledger.Entry, error)
}
