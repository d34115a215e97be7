// Package breaker provides a circuit breaker for calls to external providers
// and the database.
//
// A Breaker starts CLOSED. When FailureThreshold failures happen within the
// rolling Window it moves to OPEN and rejects calls with ErrOpen without
// running them. After Cooldown it moves to HALF_OPEN and admits at most
// HalfOpenMaxCalls concurrent trial calls: SuccessThreshold successful trials
// close it again, a failed trial reopens it. Every transition is reported to
// the registered Observers with the old state, the new state and a reason.
//
//	b := breaker.New("sms", breaker.DefaultConfig(), breaker.WithLogger(log))
//	receipt, err := breaker.Call(ctx, b, func(ctx context.Context) (*provider.Receipt, error) {
//		return adapter.Send(ctx, env)
//	})
//	if breaker.IsShortCircuit(err) {
//		// provider considered down, retry later
//	}
//
// Calls admitted under an earlier state (for example a slow call started
// while CLOSED that completes after the circuit opened) update the statistics
// but never drive a transition.
package breaker
