// Package lifecycle drives a support request from creation to deletion.
//
// A request moves through these states:
//
//	NoRequest -> Created -> Assigned -> Resolved -> ScheduledDeletion -> Deleted
//	                                                       |
//	                                                       +-> Created (cancelled)
//
// OpenRequest creates the remote conversation and its private room, binding
// them through the room topic. A user holds at most one bound non-default
// conversation; OpenRequest reports AlreadyOpen instead of creating a second
// one, and CloseExistingRequests clears the old ones. OnResolved locks the
// owner out of posting and schedules deletion through the deletion registry;
// CancelDeletion stops it.
//
// Deletion removes the room, then the conversation. The two steps are
// independent: a failure in one is logged and the other still runs.
package lifecycle
