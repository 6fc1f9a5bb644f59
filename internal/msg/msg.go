// ABOUTME: User and agent facing copy for the helpdesk bridge
// ABOUTME: Every string a customer or support agent reads is defined here

// Package msg holds the bridge's user-visible text.
package msg

import (
	"fmt"
	"time"
)

const (
	LiveChatTitle       = "Live Chat"
	LiveChatDescription = "Click the button below to start a chat with the support team"
	StartLiveChatButton = "📩 Start Live Chat"

	// BotDisplayName labels bridge-authored messages in the agent workspace.
	BotDisplayName = "bot"

	SupportRequestDeleteCancelled = "Your chat history will remain, but you won't be able to reply. " +
		"If you still need assistance, please create a new support request."
	Cancel                 = "Cancel"
	SupportRequestAssigned = "Your support request was assigned to an agent"

	SupportRequestRoomPrefix = "support-"
	SupportRequestTopic      = "Support request"

	SupportRequestFirstMessage = "We've got your support request! An agent will be with you soon. " +
		"In the meantime, let us know the details of your issue so we can help you faster."
	CloseRequest = "Close Request"

	CustomerClosedRequest          = "The customer closed this support request. You won't be able to reply."
	CustomerCloseExistingQuestion  = "You already have an open support request. Would you like to close it to start a new one?"
	UnableToRemoveExistingRequests = "Sorry, we were unable to remove your existing support requests."

	Exceeded50MBLimit = "Your message and attachment(s) weren't sent to the support agent " +
		"because they exceed the 50 MB limit."
	MessageFailedToSend = "Your message failed to send. Please try removing any attachments and sending again."

	PromptSent       = "Sent the live chat prompt to this room"
	CommandForbidden = "Only bridge admins can run this command"
)

// LiveChatPrompt is the body of the message carrying the start button.
func LiveChatPrompt() string {
	return "**" + LiveChatTitle + "**\n\n" + LiveChatDescription
}

// SupportRequestResolved tells the customer the room goes away after delay.
func SupportRequestResolved(delay time.Duration) string {
	return fmt.Sprintf("Your support request was resolved and will be deleted in %s.", humanDuration(delay))
}

// SupportRequestCreated points the customer at their new room.
func SupportRequestCreated(roomLink string) string {
	return "Your support ticket was created " + roomLink
}

// CustomerOpenedRequestAgentView is the hidden note agents see on a new conversation.
func CustomerOpenedRequestAgentView(displayName, username string) string {
	return fmt.Sprintf("Customer %s (%s) opens live chat via Matrix", displayName, username)
}

// CallbackError is shown when a command or button handler fails.
func CallbackError(err error) string {
	return "An error occurred while running the callback for this command\n" + err.Error()
}

// FailedToUpload is shown when an attachment could not be fetched or uploaded.
func FailedToUpload(err error) string {
	if err == nil {
		return "Failed to upload your attachments: "
	}
	return "Failed to upload your attachments: " + err.Error()
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= 2*time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		n := int(d.Round(time.Second) / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	}
}
