// Package store provides persistent storage for the relay using SQLite.
//
// # Architecture
//
// The store package is interface driven:
//
//   - UserStore: read access to identities owned by the external user service
//   - ConversationStore: conversations and their ordered message lists
//   - Store: both of the above plus Ping/Close
//
// SQLiteStore implements Store in a single struct. MockStore is an in-memory
// implementation with the same semantics for unit tests.
//
// # Data Models
//
//   - User: ID, display name, email and avatar reference
//   - Conversation: one row per unordered pair of users
//   - Message: text/image/video content, seen flag, creation time, append sequence
//
// # Pair Uniqueness
//
// A conversation between A and B is the same record regardless of who sent
// the first message. Rows carry the pair in canonical order (user_low,
// user_high) under a UNIQUE index, and FindOrCreateConversation uses
//
//	INSERT ... ON CONFLICT(user_low, user_high) DO NOTHING
//
// followed by a read, so two racing first messages converge on one row.
//
// # Ordering
//
// Messages get an AUTOINCREMENT seq on append and are always read back in seq
// order. Timestamps are stored as fixed width UTC strings.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// The pool is limited to one open connection, which serializes writers and
// keeps ":memory:" databases coherent.
//
// # Error Handling
//
//   - ErrNotFound: requested user or conversation does not exist
//   - ErrSamePair: a conversation was requested between a user and itself
//
// Any other error means the database is unavailable or misbehaving.
package store
