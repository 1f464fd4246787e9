package snspush

import (
	"context"
	"errors"
	"testing"

	"push-engine/internal/dispatch"
	"push-engine/internal/models"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/stretchr/testify/assert"
)

type mockSNS struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

func TestDeliver_Classification(t *testing.T) {
	sub := models.PushSubscription{Endpoint: "arn:aws:sns:us-east-1:123:endpoint/APNS/app/abc"}
	payload := dispatch.Payload{Title: "t", Body: "b"}

	tests := []struct {
		name string
		err  error
		want dispatch.OutcomeClass
	}{
		{"publish ok", nil, dispatch.OutcomeAccepted},
		{"endpoint disabled is gone", &types.EndpointDisabledException{}, dispatch.OutcomeGone},
		{"endpoint missing is gone", &types.NotFoundException{}, dispatch.OutcomeGone},
		{"throttle is transient", errors.New("rate exceeded"), dispatch.OutcomeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewWithClient(&mockSNS{
				PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &sns.PublishOutput{}, nil
				},
			})
			outcome := tr.Deliver(context.Background(), sub, payload)
			assert.Equal(t, tt.want, outcome.Class)
		})
	}
}
