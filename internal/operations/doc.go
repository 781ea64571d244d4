// Package operations runs submitted analyses one at a time and keeps their
// lifecycle state.
//
// A Manager owns three pieces of state behind a single mutex:
//
//   - the Queue, newest first, admitting at most MaxActive operations that
//     are not done
//   - the scheduler, which runs the queued operation with the lowest
//     sequence number whenever it is idle
//   - the live ServerStatus, pushed to observers by the Notifier
//
// An Analyzer does the actual work on its own goroutine and reports
// progress, funnel entries, filters and outputs through Hooks. Hook calls
// made after the analysis has completed are ignored.
//
// Every change worth surviving a restart is written to the key-value store
// under SnapshotKey. Saves are asynchronous and a newer save replaces an
// older one that has not been written yet. On Start the snapshot is
// restored, migrated and any operation caught mid-run is queued again.
//
// Example usage:
//
//	mgr, err := operations.NewManager(pipeline, artifactCache, kvClient, hub, operations.Options{
//		MaxActive: cfg.Queue.MaxActive,
//		Logger:    logger,
//	})
//	if err != nil {
//		return err
//	}
//	if err := mgr.Start(ctx); err != nil {
//		return err
//	}
//	op, err := mgr.Submit(ctx, req, clientID)
package operations
