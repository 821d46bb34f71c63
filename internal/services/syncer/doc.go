// Package syncer keeps local conversation state in step with the remote
// sync service.
//
// A cycle runs four steps in order: merge remote conversation records,
// fetch and merge new messages per conversation, merge settings, then drain
// the outbound queue. At most one cycle runs at a time; a cycle requested
// while another is in flight is skipped. A failing step ends the cycle
// early but keeps the progress of earlier steps, and nothing is lost: the
// queue is drained strictly in order and a failed item stays at the head.
//
// Cycles are triggered periodically by Start, on demand by RunCycle, and by
// NotifyNetworkRestored.
package syncer
