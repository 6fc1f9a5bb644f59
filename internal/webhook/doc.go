// Package webhook receives deliveries from the ticketing platform and the
// remote conversation platform and drives the lifecycle manager and relay.
//
// One handler serves both senders; a request path containing "/zd" is a
// ticketing event, anything else a conversations event. Every outcome is a
// fault Kind translated to an HTTP status here and nowhere else: 200 means
// processed (or deliberately ignored), 406 tells the sender never to retry,
// and 400, 401 and 500 leave retrying to the sender.
//
// Deliveries carrying an id are claimed in the dedupe cache before any side
// effect runs and only marked complete once processing succeeded, so a
// redelivery of a failed event is processed again while a redelivery of a
// successful one is acknowledged without effect.
package webhook
