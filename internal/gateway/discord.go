package gateway

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Discord adapts a discordgo session to the Messenger interface.
type Discord struct {
	s *discordgo.Session
}

func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{s: s}
}

func (d *Discord) SendMessage(ctx context.Context, channelId, content string) (string, error) {
	msg, err := d.s.ChannelMessageSend(channelId, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (d *Discord) EditMessage(ctx context.Context, channelId, messageId, content string) error {
	_, err := d.s.ChannelMessageEdit(channelId, messageId, content, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) AddReaction(ctx context.Context, channelId, messageId, emoji string) error {
	return d.s.MessageReactionAdd(channelId, messageId, emoji, discordgo.WithContext(ctx))
}

var _ Messenger = (*Discord)(nil)
