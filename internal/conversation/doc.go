// Package conversation implements the messaging engine of the relay.
//
// # Overview
//
// The package sits between the websocket sessions and the store. Every
// change to a conversation goes through Service, which persists first and
// then pushes live updates through a Publisher (normally the Broadcaster).
//
// # Service
//
//	svc := conversation.New(store, broadcaster, presence, dedupeCache, logger)
//
// Key operations:
//
//   - Send(ctx, sender, receiver, content): store a message, fan out to both
//   - ListConversations(ctx, viewer): the viewer's sidebar summaries
//   - MarkSeen(ctx, viewer, peer): flip the peer's messages to seen
//   - ClearConversation(ctx, actor, peer): delete the pair's messages
//   - Thread(ctx, viewer, peer): peer profile plus the full message list
//
// # Fan-out
//
// After a successful send both participants get a thread-update carrying
// the whole re-read thread, followed by a sidebar-update with their own
// summaries. Fan-out failures are logged; the caller only sees errors from
// the write itself.
//
// # Broadcaster
//
// Broadcaster keeps one delivery group per user ID. Each live connection
// subscribes to its user's group, so a user with two tabs receives every
// event twice, once per tab. Publishing never blocks: a subscriber whose
// buffer is full loses the event and the drop is counted.
package conversation
