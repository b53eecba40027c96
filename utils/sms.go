package utils

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"reputly/config"
)

// SMSSender delivers SMS steps through a Twilio-style REST API.
type SMSSender struct {
	cfg    config.SMSConfig
	client *fasthttp.Client
	log    *logrus.Logger
}

func NewSMSSender(cfg config.SMSConfig, log *logrus.Logger) *SMSSender {
	return &SMSSender{
		cfg: cfg,
		client: &fasthttp.Client{
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		log: log,
	}
}

type smsAPIResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (ss *SMSSender) Send(msg OutboundMessage) (*SendResult, error) {
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", ss.cfg.FromNumber)
	form.Set("Body", msg.Body)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/Accounts/%s/Messages.json", ss.cfg.APIURL, ss.cfg.AccountSID))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	auth := base64.StdEncoding.EncodeToString([]byte(ss.cfg.AccountSID + ":" + ss.cfg.AuthToken))
	req.Header.Set("Authorization", "Basic "+auth)
	req.SetBodyString(form.Encode())

	if err := ss.client.Do(req, resp); err != nil {
		return nil, fmt.Errorf("sms request failed: %w", err)
	}

	var apiResp smsAPIResponse
	if err := json.Unmarshal(resp.Body(), &apiResp); err != nil {
		return nil, fmt.Errorf("invalid sms provider response: %w", err)
	}

	if resp.StatusCode() >= 400 {
		ss.log.WithFields(logrus.Fields{
			"to":     msg.To,
			"status": resp.StatusCode(),
			"error":  apiResp.Message,
		}).Error("sms send failed")
		return nil, fmt.Errorf("sms provider returned %d: %s", resp.StatusCode(), apiResp.Message)
	}

	ss.log.WithFields(logrus.Fields{
		"to":         msg.To,
		"message_id": apiResp.SID,
	}).Info("sms sent")

	status := SendStatusSent
	if apiResp.Status == "delivered" {
		status = SendStatusDelivered
	}
	return &SendResult{MessageID: apiResp.SID, Status: status}, nil
}
