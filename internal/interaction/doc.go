// Package interaction routes chat commands and button presses to the
// lifecycle manager.
//
// The set of actions is fixed when the Registry is built: one command
// ("support") and the three buttons carried by bot prompts. Keys outside that
// set are ignored. A handler error is reported back to the user as a reply in
// the room where the interaction happened.
package interaction
