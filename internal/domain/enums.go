// Package domain defines the core domain models for the chat orchestrator.
package domain

// Channel identifies one of the two parallel conversation tracks in a session.
type Channel string

const (
	// ChannelMain is the scenario roleplay conversation.
	ChannelMain Channel = "main"
	// ChannelHelper is the sarcastic helper commentary conversation.
	ChannelHelper Channel = "helper"
)

// Valid reports whether the channel is one of the known values.
func (c Channel) Valid() bool {
	return c == ChannelMain || c == ChannelHelper
}

// AssistantRole returns the assistant role that belongs to this channel.
func (c Channel) AssistantRole() Role {
	if c == ChannelHelper {
		return RoleHelper
	}
	return RoleAssistant
}

// Role identifies the sender of a message.
type Role string

const (
	// RoleUser is the learner. Valid on either channel.
	RoleUser Role = "user"
	// RoleAssistant is the scenario roleplay assistant. Main channel only.
	RoleAssistant Role = "assistant"
	// RoleHelper is the helper assistant. Helper channel only.
	RoleHelper Role = "helper"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleHelper
}

// AllowedOn reports whether the role may appear on the given channel.
// Assistant roles are pinned to their channel; the user may write to either.
func (r Role) AllowedOn(c Channel) bool {
	switch r {
	case RoleUser:
		return c.Valid()
	case RoleAssistant:
		return c == ChannelMain
	case RoleHelper:
		return c == ChannelHelper
	}
	return false
}
