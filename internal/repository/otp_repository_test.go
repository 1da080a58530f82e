package repository

import (
	"context"
	"testing"
	"time"

	"github.com/attendly/phoneauth/internal/gateway"
	"github.com/attendly/phoneauth/internal/models"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var _ gateway.CodeStore = (*OTPRepository)(nil)

func TestOTPRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamoDB()
	repo := NewOTPRepository(db, "AttendanceTable", quietLogger())

	now := time.Now().UTC().Truncate(time.Second)
	data := models.OTPData{
		VerificationID: "v-1",
		OTPHash:        "hash",
		Phone:          testPhone,
		CreatedAt:      now,
		ExpiresAt:      now.Add(10 * time.Minute),
	}
	require.NoError(t, repo.Store(ctx, data))

	item := db.items["OTP#v-1|METADATA"]
	require.NotNil(t, item)
	assert.Equal(t, "hash", item["otp_hash"].(*types.AttributeValueMemberS).Value)
	assert.NotNil(t, item["TTL"])

	got, err := repo.Get(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, data.Phone, got.Phone)
	assert.True(t, data.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, repo.Delete(ctx, "v-1"))
	_, err = repo.Get(ctx, "v-1")
	assert.ErrorIs(t, err, gateway.ErrCodeNotFound)
}

func TestOTPRepositoryIgnoresExpiredItems(t *testing.T) {
	ctx := context.Background()
	repo := NewOTPRepository(newFakeDynamoDB(), "AttendanceTable", quietLogger())

	now := time.Now()
	require.NoError(t, repo.Store(ctx, models.OTPData{VerificationID: "v-2", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))

	repo.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err := repo.Get(ctx, "v-2")
	assert.ErrorIs(t, err, gateway.ErrCodeNotFound)
}

func TestCodeGatewayOverDynamoDB(t *testing.T) {
	ctx := context.Background()
	var code string
	sender := senderFunc(func(_ context.Context, _, c string) error {
		code = c
		return nil
	})
	g := gateway.NewCodeGateway(
		NewOTPRepository(newFakeDynamoDB(), "AttendanceTable", quietLogger()),
		sender,
		gateway.Config{CodeLength: 6, Expiry: 10 * time.Minute, HashCost: bcrypt.MinCost},
		quietLogger(),
	)

	id, err := g.SendCode(ctx, testPhone)
	require.NoError(t, err)
	require.NoError(t, g.CheckCode(ctx, id, testPhone, code))
	assert.ErrorIs(t, g.CheckCode(ctx, id, testPhone, code), gateway.ErrCodeNotFound)
}

type senderFunc func(ctx context.Context, phoneNumber, code string) error

func (f senderFunc) Send(ctx context.Context, phoneNumber, code string) error {
	return f(ctx, phoneNumber, code)
}
