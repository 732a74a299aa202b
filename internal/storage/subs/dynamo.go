package subs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	logx "ensenbot/pkg/logx"
)

// dynamoStore queries the settings handler's table directly: partition key
// is the user id, sort key holds either a route id or the profile sentinel,
// and the route index inverts the pair for the fan-out lookup.
type dynamoStore struct {
	client     *dynamodb.Client
	table      string
	routeIndex string
	timeout    time.Duration
	log        logx.Logger
}

type subscriptionItem struct {
	UserID         string `dynamodbav:"lineUserId"`
	SettingOrRoute string `dynamodbav:"settingOrRoute"`
}

func openDynamo(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, errors.New("dynamo table is required")
	}
	index := strings.TrimSpace(cfg.RouteIndex)
	if index == "" {
		return nil, errors.New("dynamo route index is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if r := strings.TrimSpace(cfg.Region); r != "" {
		opts = append(opts, awsconfig.WithRegion(r))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &dynamoStore{
		client:     dynamodb.NewFromConfig(awsCfg),
		table:      table,
		routeIndex: index,
		timeout:    cfg.Timeout,
		log:        log,
	}, nil
}

func (s *dynamoStore) Close() error { return nil }

func (s *dynamoStore) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *dynamoStore) RoutesByUser(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("lineUserId = :u"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":u": &ddbtypes.AttributeValueMemberS{Value: userID},
		},
	}

	var routes []string
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		var items []subscriptionItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			if it.SettingOrRoute == ProfileKey {
				continue
			}
			routes = append(routes, it.SettingOrRoute)
		}
		if out.LastEvaluatedKey == nil {
			return routes, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *dynamoStore) UsersByRoute(ctx context.Context, routeID string) ([]string, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.routeIndex),
		KeyConditionExpression: aws.String("settingOrRoute = :r"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":r": &ddbtypes.AttributeValueMemberS{Value: routeID},
		},
	}

	var users []string
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		var items []subscriptionItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			users = append(users, it.UserID)
		}
		if out.LastEvaluatedKey == nil {
			return users, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
