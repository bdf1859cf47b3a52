// Package progress tracks run counters and derived rates, and notifies named
// callbacks after every update. Callbacks run synchronously on the updating
// goroutine, outside the counter lock, and a panicking callback is logged
// without affecting the others.
package progress
