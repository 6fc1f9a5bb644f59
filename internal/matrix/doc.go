// Package matrix implements chat.Platform on a Matrix homeserver using
// mautrix.
//
// Support rooms are private, invite-only rooms created by the bot. The room
// binding lives in m.room.topic. Matrix has no native buttons, so a prompt is a
// message carrying its button id under the net.2389.button content key; the
// bot seeds it with a reaction and a user pressing that reaction counts as a
// button press. A text command such as "!support" reaches the same handlers.
//
// Restricting an owner lowers them below events_default in the room's power
// levels while leaving reactions open, so the owner can still read the room
// and press the cancel button but can no longer post.
//
// Inbound events from one room are handled in order on a per-room queue;
// different rooms proceed independently.
package matrix
