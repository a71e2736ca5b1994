package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

type postToConnectionAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// APIGatewayPusher posts to connections managed by an API Gateway WebSocket
// API. endpoint is the stage URL, e.g. https://id.execute-api.region.amazonaws.com/dev.
type APIGatewayPusher struct {
	api postToConnectionAPI
}

func NewAPIGatewayPusher(ctx context.Context, endpoint, region string) (*APIGatewayPusher, error) {
	if endpoint == "" {
		return nil, errors.New("api gateway endpoint required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &APIGatewayPusher{api: client}, nil
}

func (p *APIGatewayPusher) Push(ctx context.Context, channelID string, payload []byte) error {
	_, err := p.api.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(channelID),
		Data:         payload,
	})
	if err == nil {
		return nil
	}
	if isGone(err) {
		return fmt.Errorf("%w: %v", ErrChannelGone, err)
	}
	return err
}

func isGone(err error) bool {
	var gone *types.GoneException
	if errors.As(err, &gone) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusGone
}
