// Package chat defines the capabilities the bridge needs from a chat-room
// platform. The Matrix adapter in internal/matrix implements Platform; the
// lifecycle, relay, webhook and interaction packages depend only on this
// package.
package chat
