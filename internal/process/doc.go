// Package process coordinates the recorder's long-lived workers.
//
// A Group runs named workers under one context:
//   - The first worker failure cancels the rest
//   - Cooperative exits after cancellation are not failures
//   - Wait gives workers a drain window after cancellation and names
//     the ones that hang
//   - Status reports per-worker state
//
// SignalContext wires SIGINT and SIGTERM into the same cancellation
// path, so an operator interrupt and an internal failure shut the
// recorder down through identical code.
//
// Example:
//
//	ctx, cancel := process.SignalContext(context.Background(), logger)
//	defer cancel()
//
//	group := process.NewGroup(ctx, logger)
//	group.Go("capture", captureLoop.Run)
//	group.Go("session", subscriber.Run)
//	err := group.Wait()
package process
