// Package broadcast distributes frames from one camera to any number of
// HTTP consumers.
//
// Each Broadcaster owns exactly one capture goroutine and a single
// latest-frame slot guarded by a mutex and condition variable. A publish
// overwrites the slot and wakes every waiter; there is no queue, so a
// consumer slower than the publish rate silently skips frames and always
// receives the newest one. Memory per camera stays constant no matter
// how many consumers are attached or how slow they are.
//
// "Drop frames, never queue. Latency > Completeness."
//
// Lifecycle is terminal: Start() → running → Stop(). A stopped
// Broadcaster cannot be restarted; create a new one to resume a camera.
package broadcast
