package runtime

import (
	"context"

	"github.com/recordum/recordum/internal/recordsrv/db/models"
)

// Dispatcher receives record lifecycle notifications. The workflow engine
// registers itself at startup; record creation then fans out to the
// record-created workflow triggers of the tenant.
type Dispatcher interface {
	RecordCreated(ctx context.Context, record *models.RuntimeRecord)
}

var dispatcher Dispatcher

// SetDispatcher installs the lifecycle dispatcher. Call once at startup,
// before the service accepts writes.
func SetDispatcher(d Dispatcher) {
	dispatcher = d
}

func notifyRecordCreated(ctx context.Context, record *models.RuntimeRecord) {
	if dispatcher != nil {
		dispatcher.RecordCreated(ctx, record)
	}
}
