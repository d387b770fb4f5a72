package aws

import (
	"context"
	"errors"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: awssdk.String("msg-1")}, nil
}

type fakeSNS struct {
	input *sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	return &sns.PublishOutput{MessageId: awssdk.String("sms-1")}, nil
}

func TestSESClient_SendEmail(t *testing.T) {
	api := &fakeSES{}
	client := NewSESClientWithAPI(api, "noreply@trades.example")

	id, err := client.SendEmail(context.Background(), "jo@example.com", "Job completed", "Thanks!")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "noreply@trades.example", *api.input.Source)
	assert.Equal(t, []string{"jo@example.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "Job completed", *api.input.Message.Subject.Data)

	api.err = errors.New("throttled")
	_, err = client.SendEmail(context.Background(), "jo@example.com", "x", "y")
	assert.Error(t, err)
}

func TestSNSClient_SendSMS(t *testing.T) {
	api := &fakeSNS{}
	id, err := NewSNSClientWithAPI(api).SendSMS(context.Background(), "+447700900123", "Your job was accepted")
	require.NoError(t, err)
	assert.Equal(t, "sms-1", id)
	assert.Equal(t, "+447700900123", *api.input.PhoneNumber)
	assert.Equal(t, "Transactional", *api.input.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue)
}
