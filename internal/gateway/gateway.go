// Package gateway is the boundary to the chat platform. Inbound
// messages are normalized into Event before the core sees them, and the
// core talks back through the Messenger interface, so no service
// package imports discordgo types.
package gateway

import (
	"context"
	"time"
)

// Event is a normalized inbound channel message: a candidate catch
// guess or plain activity, stripped of transport detail.
type Event struct {
	UserId    string
	GuildId   string
	ChannelId string
	MessageId string
	Text      string
	Timestamp time.Time
}

// Messenger is the outbound surface the core needs: post, edit, react.
// Implementations may fail transiently; callers that must not fail wrap
// it in Retrying.
type Messenger interface {
	SendMessage(ctx context.Context, channelId, content string) (messageId string, err error)
	EditMessage(ctx context.Context, channelId, messageId, content string) error
	AddReaction(ctx context.Context, channelId, messageId, emoji string) error
}
