// Package deletion tracks scheduled room deletions.
//
// At most one deletion is pending per room. Scheduling again for the same
// room replaces the earlier entry. A timer firing and a Cancel call for the
// same room both go through a single take-and-clear step under the registry
// lock, so exactly one of them wins and the other is a no-op. Entries carry a
// token so a replaced timer that fires late finds its entry gone and does
// nothing.
//
// Pending deletions live in memory only and are lost on restart.
package deletion
