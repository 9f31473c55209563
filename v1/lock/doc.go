// Package lock provides lease-based locks over pluggable backends. A lease has
// a random id and an expiry; expired leases never block acquisition and are
// deleted lazily by the next operation that reads them.
//
// Locker implements the Manager contract once, on top of a Backend that offers
// three atomic primitives: create-if-absent, delete conditioned on the lock id,
// and update conditioned on id and previous expiry. The package ships:
//
//   - RedisBackend: one hash per path mutated by Lua scripts. This is the
//     backend to use across processes and hosts.
//   - FileBackend: one JSON file per namespace, rewritten under a mutex and an
//     advisory file lock. Single-process use only.
//   - InMemory: a map, for tests and local tools.
//
// Contention is a value, not an error: AcquireLock reports Acquired false with
// Err set to ErrNotAcquired, ReleaseLock and ExtendLock return false. Returned
// errors mean the backend failed or the input was invalid.
//
// There is no notification on release. Waiting acquirers poll with a fixed
// delay for a bounded number of attempts; use a context deadline for a hard
// limit on wall-clock time.
package lock
