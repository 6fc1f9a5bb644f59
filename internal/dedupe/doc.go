// Package dedupe remembers webhook delivery ids for a configurable window so
// redelivered events are acknowledged without being processed twice.
package dedupe
