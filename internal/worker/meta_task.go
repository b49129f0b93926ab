package worker

import (
	"context"
	"time"

	"github.com/hyperengineering/tempo/internal/store"
)

// Track records a background run on the user's meta task row: RUNNING when
// it starts, SUCCESS or FAILURE with a finish timestamp when it ends. The
// row's version bumps each time, so clients sync background-work state.
func Track(ctx context.Context, st *store.Store, userID, name string, fn func(ctx context.Context) error) error {
	startedAt := time.Now().UnixMilli()
	if err := st.UpsertMetaTask(ctx, st.DB(), userID, name, store.MetaTaskRunning, startedAt, 0); err != nil {
		return err
	}

	runErr := fn(ctx)

	status := store.MetaTaskSuccess
	if runErr != nil {
		status = store.MetaTaskFailure
	}
	if err := st.UpsertMetaTask(ctx, st.DB(), userID, name, status, startedAt, time.Now().UnixMilli()); err != nil {
		return err
	}
	return runErr
}
