// Package topic encodes the binding between a chat room and a remote
// conversation into the room's free-text topic.
//
// The topic is the only state the bridge owns. A bridge-owned payload is
// introduced by a sentinel of five U+200E marks so it can follow arbitrary
// human-written text:
//
//	Support request
//
//	‎‎‎‎‎["<conversation id>","<owner id>"]
//
// Encoded payloads are capped at 800 characters, which leaves room for the
// human prefix under the 1024 character limit chat platforms commonly apply.
package topic
