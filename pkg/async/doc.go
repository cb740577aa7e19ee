// Package async runs bounded concurrent work with panic recovery and
// per-task timeouts.
//
//	errs := async.Batch(ctx, roles, 4, 5*time.Second, func(ctx context.Context, role string) error {
//		return store.Set(ctx, key(role), perms[role], ttl)
//	})
//
// A panicking task is reported as an error for its item instead of
// crashing the process.
package async
