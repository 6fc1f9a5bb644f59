// Package relay moves messages between a bound chat room and its remote
// conversation.
//
// Chat to remote: a message from the room owner becomes one text envelope
// followed by one envelope per uploaded attachment, posted strictly in that
// order. A failure on one envelope is reported to the user and the rest still
// go out.
//
// Remote to chat: text is posted after placeholder substitution; images and
// files are posted as text plus media URL; anything else is dropped with a
// warning.
package relay
