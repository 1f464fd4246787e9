// Package snspush delivers payloads to SNS platform endpoints (mobile
// push). The subscription's endpoint value is the platform endpoint ARN.
package snspush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"push-engine/internal/dispatch"
	"push-engine/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the slice of the SNS client this transport uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Transport implements dispatch.Transport over SNS platform endpoints.
type Transport struct {
	client SNSAPI
}

func New(ctx context.Context, region string) (*Transport, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &Transport{client: sns.NewFromConfig(cfg)}, nil
}

// NewWithClient wires a prebuilt client, used by tests.
func NewWithClient(client SNSAPI) *Transport {
	return &Transport{client: client}
}

// Deliver publishes the payload to the endpoint ARN. A disabled platform
// endpoint classifies as gone; any other publish error is transient.
func (t *Transport) Deliver(ctx context.Context, sub models.PushSubscription, payload dispatch.Payload) dispatch.Outcome {
	message, err := json.Marshal(payload)
	if err != nil {
		return dispatch.Outcome{Class: dispatch.OutcomeTransient, Err: fmt.Errorf("encode payload: %w", err)}
	}

	_, err = t.client.Publish(ctx, &sns.PublishInput{
		TargetArn: aws.String(sub.Endpoint),
		Message:   aws.String(string(message)),
	})
	if err != nil {
		var disabled *types.EndpointDisabledException
		var notFound *types.NotFoundException
		if errors.As(err, &disabled) || errors.As(err, &notFound) {
			return dispatch.Outcome{Class: dispatch.OutcomeGone, Err: err}
		}
		return dispatch.Outcome{Class: dispatch.OutcomeTransient, Err: err}
	}
	return dispatch.Outcome{Class: dispatch.OutcomeAccepted}
}
