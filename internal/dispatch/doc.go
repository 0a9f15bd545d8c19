// Package dispatch publishes one message to an ordered list of groups.
//
// A Run processes its targets strictly in order with one publish in flight,
// waits the configured delay between items, and records an Outcome for every
// target. A failed publish is final for that target; there is no retry.
//
// Runs can be paused (taking effect before the next item), resumed with the
// cursor preserved, or abandoned. Already-published items are never rolled
// back.
package dispatch
