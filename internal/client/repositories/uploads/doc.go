// Package uploads persists the client's upload queue.
//
// A file added while the device is offline or locked is queued here with its
// plaintext path and destination folder. Once the device is online and
// unlocked the queue is drained: each file is encrypted under a fresh DEK,
// pushed to storage and recorded in the directory listing, then marked
// completed with the object id the server assigned.
//
//	repo := uploads.NewSQLiteRepository(db)
//	_ = repo.Enqueue(ctx, u)
//	pending, _ := repo.Pending(ctx)
//	_ = repo.MarkUploaded(ctx, u.ID, objectID)
package uploads
