// Package dedupe remembers which client message IDs each sender has already
// had accepted, so a client that retries a send after a dropped
// acknowledgement does not produce a second stored message.
//
// Claims expire after a configurable TTL and the cache holds a bounded
// number of them; the oldest claim is evicted first.
package dedupe
