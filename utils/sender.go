package utils

import (
	"fmt"

	"reputly/models"
)

// Send result statuses reported by channel adapters
const (
	SendStatusSent      = "sent"
	SendStatusDelivered = "delivered"
)

// OutboundMessage is a fully rendered message ready for a channel adapter.
type OutboundMessage struct {
	Channel string
	To      string
	Subject string
	Body    string
}

// SendResult reports the provider-side outcome of a send attempt.
type SendResult struct {
	MessageID string
	Status    string
}

// MessageSender places a rendered message on the wire.
type MessageSender interface {
	Send(msg OutboundMessage) (*SendResult, error)
}

// ChannelSender routes outbound messages to the adapter for their channel.
type ChannelSender struct {
	Email MessageSender
	SMS   MessageSender
}

func NewChannelSender(email, sms MessageSender) *ChannelSender {
	return &ChannelSender{Email: email, SMS: sms}
}

func (cs *ChannelSender) Send(msg OutboundMessage) (*SendResult, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("no recipient for %s message", msg.Channel)
	}

	switch msg.Channel {
	case models.ChannelEmail:
		if cs.Email == nil {
			return nil, fmt.Errorf("email sender not configured")
		}
		return cs.Email.Send(msg)
	case models.ChannelSMS:
		if cs.SMS == nil {
			return nil, fmt.Errorf("sms sender not configured")
		}
		return cs.SMS.Send(msg)
	}
	return nil, fmt.Errorf("unknown channel %q", msg.Channel)
}

// Recipient picks the customer address for the channel.
func Recipient(channel string, customer *models.Customer) string {
	switch channel {
	case models.ChannelEmail:
		return customer.Email
	case models.ChannelSMS:
		return customer.Phone
	}
	return ""
}
