/*
Package comm implements network communication capabilities that are reliable and
causally-ordered among multiple replicas. Vector clocks are used to ensure causality:
a received operation is only handed on once every operation it causally depends on
has been applied, and duplicates are dropped. Senders keep retrying each peer until
it acknowledges, so delivery is at-least-once. Full state syncs travel over the same
gRPC service and let a replica catch up on anything it missed.
*/
package comm
