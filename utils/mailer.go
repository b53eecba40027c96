package utils

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"reputly/config"
)

// EmailSender delivers email steps over SMTP.
type EmailSender struct {
	cfg config.SMTPConfig
	log *logrus.Logger
}

func NewEmailSender(cfg config.SMTPConfig, log *logrus.Logger) *EmailSender {
	return &EmailSender{cfg: cfg, log: log}
}

func (es *EmailSender) Send(msg OutboundMessage) (*SendResult, error) {
	messageID := uuid.New().String()

	m := gomail.NewMessage()
	m.SetAddressHeader("From", es.cfg.FromEmail, es.cfg.FromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@reputly>", messageID))
	m.SetBody("text/html", msg.Body)

	d := gomail.NewDialer(es.cfg.Host, es.cfg.Port, es.cfg.Username, es.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		es.log.WithFields(logrus.Fields{
			"to":    msg.To,
			"error": err.Error(),
		}).Error("email send failed")
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	es.log.WithFields(logrus.Fields{
		"to":         msg.To,
		"message_id": messageID,
	}).Info("email sent")

	// SMTP acceptance only confirms handoff; delivery is reported later
	// through the delivery webhook.
	return &SendResult{MessageID: messageID, Status: SendStatusSent}, nil
}
