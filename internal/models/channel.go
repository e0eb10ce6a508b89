package models

import (
	"fmt"
	"strings"
)

// Channel is the transport a reminder is delivered through.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelPush     Channel = "push"
	ChannelTelegram Channel = "telegram"
)

const DefaultChannel = ChannelEmail

func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelTelegram}
}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelTelegram:
		return true
	}
	return false
}

func (c Channel) String() string {
	return string(c)
}

// ParseChannel maps an empty value to DefaultChannel.
func ParseChannel(raw string) (Channel, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return DefaultChannel, nil
	}
	c := Channel(trimmed)
	if !c.Valid() {
		return "", fmt.Errorf("unknown reminder channel %q", raw)
	}
	return c, nil
}
