package contracts

import "context"

type AsyncWorker interface {
	// Run starts the consumer loop and blocks until ctx is done.
	Run(ctx context.Context) error
	// Process handles one queued notification: deliver, acknowledge, delete.
	Process(ctx context.Context, entryID string, raw []byte) error
}
