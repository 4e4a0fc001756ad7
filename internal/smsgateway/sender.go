// Package smsgateway sends outbound SMS replies. Delivery retries are the
// gateway's job, not this service's.
package smsgateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/textmit/textmit/internal/model"
)

// Sender is the single outbound operation the pipeline needs.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

type sendRequest struct {
	DestinationNumber    string `json:"destinationNumber"`
	OriginationNumber    string `json:"originationNumber"`
	MessageBody          string `json:"messageBody"`
	ConfigurationSetName string `json:"configurationSetName"`
}

// HTTPGateway sends through an HTTP SMS gateway.
type HTTPGateway struct {
	http             *resty.Client
	origin           string
	configurationSet string
}

// NewHTTPGateway validates the send-channel configuration up front; a
// missing origin number or configuration set is a configuration error, not
// a per-message failure.
func NewHTTPGateway(baseURL, origin, configurationSet string) (*HTTPGateway, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("sms gateway url missing: %w", model.ErrConfiguration)
	}
	if origin == "" {
		return nil, fmt.Errorf("sms origin number missing: %w", model.ErrConfiguration)
	}
	if configurationSet == "" {
		return nil, fmt.Errorf("sms configuration set missing: %w", model.ErrConfiguration)
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)
	return &HTTPGateway{http: c, origin: origin, configurationSet: configurationSet}, nil
}

// Send delivers one message.
func (g *HTTPGateway) Send(ctx context.Context, to, body string) error {
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(sendRequest{
			DestinationNumber:    to,
			OriginationNumber:    g.origin,
			MessageBody:          body,
			ConfigurationSetName: g.configurationSet,
		}).
		Post("/v1/sms")
	if err != nil {
		return fmt.Errorf("sms send: %v: %w", err, model.ErrUpstream)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("sms send: status %d: %w", resp.StatusCode(), model.ErrUpstream)
	}
	return nil
}

// NopSender logs instead of sending. Used by the simulate path and in
// environments without a configured gateway.
type NopSender struct {
	Log zerolog.Logger
}

func (n NopSender) Send(ctx context.Context, to, body string) error {
	n.Log.Info().Str("to", to).Int("length", len(body)).Msg("sms send suppressed")
	return nil
}
