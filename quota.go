package rpcrouter

import "context"

// QuotaManager tracks monthly usage counters per provider. A limit of
// zero or less means unlimited. Implementations must make TryReserve
// atomic: the capacity check and the increment happen under one lock
// or one backend round trip.
type QuotaManager interface {
	// Check reports whether a provider could absorb cost more units
	// without exceeding limit. It does not mutate usage.
	Check(ctx context.Context, provider string, limit, cost int64) bool

	// TryReserve atomically adds cost to the provider's usage if the
	// result stays within limit. Returns false and leaves usage
	// untouched otherwise.
	TryReserve(ctx context.Context, provider string, cost, limit int64) bool

	// Rollback subtracts cost from the provider's usage, clamping at
	// zero. Used to undo a reservation after a failed dispatch.
	Rollback(ctx context.Context, provider string, cost int64)

	// Usage returns the provider's current usage counter.
	Usage(ctx context.Context, provider string) int64

	// Reset clears the provider's usage counter.
	Reset(ctx context.Context, provider string)
}
