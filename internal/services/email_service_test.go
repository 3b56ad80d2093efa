package services

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestResetLink(t *testing.T) {
	link := resetLink("https://app.example.com/reset", "a+b@c.com", "tok_en-1")

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/reset", u.Path)
	assert.Equal(t, "a+b@c.com", u.Query().Get("email"))
	assert.Equal(t, "tok_en-1", u.Query().Get("token"))
}

func TestAWSSESEmailService_SendPasswordResetEmail(t *testing.T) {
	client := &fakeSES{}
	svc := NewAWSSESEmailServiceWithClient(client, "noreply@example.com", "https://app.example.com/reset", discardLogger())

	err := svc.SendPasswordResetEmail(context.Background(), "a@b.com", "secret-token", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NotNil(t, client.input)
	assert.Equal(t, "noreply@example.com", aws.ToString(client.input.Source))
	assert.Equal(t, []string{"a@b.com"}, client.input.Destination.ToAddresses)
	assert.Contains(t, aws.ToString(client.input.Message.Body.Text.Data), "token=secret-token")
	assert.Contains(t, aws.ToString(client.input.Message.Body.Html.Data), "expires in 60 minutes")
}

func TestAWSSESEmailService_SendFailure(t *testing.T) {
	client := &fakeSES{err: errors.New("throttled")}
	svc := NewAWSSESEmailServiceWithClient(client, "noreply@example.com", "https://app.example.com/reset", discardLogger())

	err := svc.SendPasswordResetEmail(context.Background(), "a@b.com", "secret-token", time.Now().Add(time.Hour))
	assert.ErrorContains(t, err, "throttled")
}
