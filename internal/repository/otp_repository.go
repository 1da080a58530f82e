package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/attendly/phoneauth/internal/gateway"
	"github.com/attendly/phoneauth/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
)

// OTPRepository is a gateway.CodeStore on DynamoDB. Items carry a TTL
// attribute; DynamoDB deletes lazily, so Get also checks the expiry.
type OTPRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewOTPRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *OTPRepository {
	return &OTPRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

func otpKey(verificationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("OTP#%s", verificationID)},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// Store writes the code with a TTL at its expiry
func (r *OTPRepository) Store(ctx context.Context, otpData models.OTPData) error {
	item, err := attributevalue.MarshalMap(otpData)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP data: %w", err)
	}
	for k, v := range otpKey(otpData.VerificationID) {
		item[k] = v
	}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", otpData.ExpiresAt.Unix())}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (r *OTPRepository) Get(ctx context.Context, verificationID string) (*models.OTPData, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            otpKey(verificationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	if result.Item == nil {
		return nil, gateway.ErrCodeNotFound
	}

	var otpData models.OTPData
	if err := attributevalue.UnmarshalMap(result.Item, &otpData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}

	// TTL deletion can lag by hours
	if r.now().After(otpData.ExpiresAt) {
		return nil, gateway.ErrCodeNotFound
	}

	return &otpData, nil
}

func (r *OTPRepository) Delete(ctx context.Context, verificationID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       otpKey(verificationID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}

	return nil
}
