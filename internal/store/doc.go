// Package store provides persistent storage for nightjar using SQLite.
//
// # Architecture
//
// The Store interface is the narrow contract the messaging pipeline and HTTP
// handlers consume. SQLiteStore is the production implementation; MockStore
// is an in-memory double for unit tests.
//
// # Data Models
//
//   - Conversation: a titled, owned sequence of messages with a default model
//   - Message: append-only log entry with role, content, and optional
//     model/token count (assistant messages only)
//
// # Ownership Scoping
//
// Every read and write that takes a userID is scoped to that owner. A lookup
// for a conversation that exists but belongs to someone else returns
// ErrNotFound, never a permission error, so conversation existence cannot be
// probed across users.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Deleting a conversation cascades to its messages via the foreign key.
//
// # Error Handling
//
//   - ErrNotFound: entity missing or owned by a different user
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore(":memory:") /
// a t.TempDir() path for integration tests with real SQLite.
package store
