// Package storage is the durable side of the daemon.
//
// It keeps two things:
//   - single-value slots with an expiry, used as mailboxes between the
//     collector and the consumer
//   - an append-only log of dispatch outcomes
//
// Drivers: memory (default), file, sqlite and redis.
package storage
