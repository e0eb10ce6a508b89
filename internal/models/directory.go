package models

import "strconv"

type Client struct {
	ID             int64  `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Email          string `json:"email" yaml:"email"`
	Phone          string `json:"phone" yaml:"phone"`
	PushToken      string `json:"push_token,omitempty" yaml:"push_token"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty" yaml:"telegram_chat_id"`
}

// ContactFor returns the recipient address for a channel, if the client has one.
func (c *Client) ContactFor(ch Channel) (string, bool) {
	var addr string
	switch ch {
	case ChannelEmail:
		addr = c.Email
	case ChannelSMS:
		addr = c.Phone
	case ChannelPush:
		addr = c.PushToken
	case ChannelTelegram:
		if c.TelegramChatID != 0 {
			addr = strconv.FormatInt(c.TelegramChatID, 10)
		}
	}
	return addr, addr != ""
}

type Pet struct {
	ID      int64  `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Species string `json:"species" yaml:"species"`
	OwnerID int64  `json:"owner_id" yaml:"owner_id"`
}

type Employee struct {
	ID        int64  `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Specialty string `json:"specialty" yaml:"specialty"`
	// ServiceMinutes overrides the catalog duration per service type.
	ServiceMinutes map[ServiceType]int `json:"service_minutes,omitempty" yaml:"service_minutes"`
}

// SlotMinutes returns the employee override for t, or 0 when there is none.
func (e *Employee) SlotMinutes(t ServiceType) int {
	if e == nil || e.ServiceMinutes == nil {
		return 0
	}
	return e.ServiceMinutes[t]
}
