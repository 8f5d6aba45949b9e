package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioConfig holds the credentials and numbers for SMS delivery.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
	// StatusCallback receives delivery updates when set.
	StatusCallback string
}

// messageCreator is the part of the Twilio REST API used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSNotifier texts an on-call number through Twilio.
type SMSNotifier struct {
	from, to string
	callback string
	api      messageCreator
}

func NewSMSNotifier(cfg TwilioConfig) (*SMSNotifier, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio: account sid and auth token required")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, errors.New("twilio: from and to numbers required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSNotifier{from: cfg.From, to: cfg.To, callback: cfg.StatusCallback, api: client.Api}, nil
}

// Notify implements Notifier.
func (n *SMSNotifier) Notify(ctx context.Context, e Emergency) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(smsBody(e))
	if n.callback != "" {
		params.SetStatusCallback(n.callback)
	}
	msg, err := n.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio: send sms: %w", err)
	}
	if msg != nil && msg.ErrorMessage != nil && *msg.ErrorMessage != "" {
		return fmt.Errorf("twilio: send sms: %s", *msg.ErrorMessage)
	}
	return nil
}

func smsBody(e Emergency) string {
	symptoms := e.Symptoms
	if r := []rune(symptoms); len(r) > 140 {
		symptoms = string(r[:140]) + "..."
	}
	return fmt.Sprintf("MediBot emergency alert (conversation %s): %q", e.ConversationID, symptoms)
}
