// Package client contains the client-side transport for dirkeeper.
//
// # Overview
//
// The package provides:
//  1. An API contract (see the Client interface) for the dirkeeper server:
//     session login/logout, key setup and unwrap, passcode rotation, the
//     encrypted directory, device upgrade and file URLs.
//  2. A concrete HTTP implementation (see HTTPClient) that carries the session
//     token as a bearer header and maps status codes back to the sentinel
//     errors of internal/common.
//  3. Liveness polling (WaitOnline) with exponential backoff, used after a
//     network failure so that nothing is retried against the lockout.
//  4. Local persistence bootstrap (InitDatabase, RunMigrations) for the CLI:
//     an SQLite device store with embedded goose migrations.
//
// # Error Handling
//
// Server answers are matched with errors.Is / errors.As:
// common.ErrWrongSecret, *common.LockedOutError, common.ErrNeedsSetup,
// *DeviceSetupError (wraps common.ErrNeedsDeviceSetup), ErrUnauthorized,
// ErrUnavailable and ErrRateLimited.
//
// Concurrency & Contexts
//
// HTTPClient is safe for concurrent use. All operations accept
// context.Context and honor cancellation.
package client
