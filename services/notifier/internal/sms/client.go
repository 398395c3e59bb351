package sms

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// maxBodyLength is Twilio's limit for a single message body, in characters
const maxBodyLength = 1600

// messageCreator is the part of the Twilio REST API the client uses
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Client sends SMS through Twilio
type Client struct {
	api         messageCreator
	phoneNumber string
}

// NewClient creates a new Twilio client
func NewClient(accountSID, authToken, phoneNumber string) *Client {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{api: rest.Api, phoneNumber: phoneNumber}
}

// SendSMS sends body to the given phone number and returns the message sid
func (c *Client) SendSMS(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body = truncate(body)

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.phoneNumber)
	params.SetBody(body)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio API error: %w", err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	return sid, nil
}

// truncate limits body to maxBodyLength characters
func truncate(body string) string {
	runes := []rune(body)
	if len(runes) <= maxBodyLength {
		return body
	}
	return string(runes[:maxBodyLength-3]) + "..."
}
