package sqs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/queuechat/internal/transport"
	"github.com/capitalize-ai/queuechat/pkg/logger"
)

type fakeAPI struct {
	receiveIn  *sqs.ReceiveMessageInput
	receiveOut *sqs.ReceiveMessageOutput
	receiveErr error

	sendIn  *sqs.SendMessageInput
	sendOut *sqs.SendMessageOutput
	sendErr error
}

func (f *fakeAPI) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receiveIn = in
	return f.receiveOut, f.receiveErr
}

func (f *fakeAPI) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sendIn = in
	return f.sendOut, f.sendErr
}

func newTestQueue(t *testing.T, api API) *Queue {
	t.Helper()
	q, err := NewQueue(api, Config{QueueURL: "https://sqs.us-east-1.amazonaws.com/123/chat"}, logger.NewNop())
	require.NoError(t, err)
	return q
}

func TestNewQueue_RequiresURL(t *testing.T) {
	_, err := NewQueue(&fakeAPI{}, Config{}, logger.NewNop())
	assert.Error(t, err)
}

func TestQueue_Receive(t *testing.T) {
	api := &fakeAPI{receiveOut: &sqs.ReceiveMessageOutput{Messages: []types.Message{
		{MessageId: aws.String("a1"), Body: aws.String("bob: hi | to: alice")},
		{MessageId: nil, Body: aws.String("orphan")},
		{MessageId: aws.String("a2"), Body: aws.String("alice: yo | to: bob")},
	}}}
	q := newTestQueue(t, api)

	got, err := q.Receive(context.Background(), 10, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "bob: hi | to: alice", got[0].Envelope)
	assert.Equal(t, "a2", got[1].ID)

	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/chat", aws.ToString(api.receiveIn.QueueUrl))
	assert.Equal(t, int32(10), api.receiveIn.MaxNumberOfMessages)
	assert.Equal(t, int32(5), api.receiveIn.WaitTimeSeconds)
}

func TestQueue_ReceiveClampsLimits(t *testing.T) {
	api := &fakeAPI{receiveOut: &sqs.ReceiveMessageOutput{}}
	q := newTestQueue(t, api)

	_, err := q.Receive(context.Background(), 50, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int32(10), api.receiveIn.MaxNumberOfMessages)
	assert.Equal(t, int32(20), api.receiveIn.WaitTimeSeconds)

	_, err = q.Receive(context.Background(), 0, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, int32(1), api.receiveIn.MaxNumberOfMessages)
	assert.Equal(t, int32(0), api.receiveIn.WaitTimeSeconds)
}

func TestQueue_ReceiveFailure(t *testing.T) {
	cause := errors.New("throttled")
	q := newTestQueue(t, &fakeAPI{receiveErr: cause})

	_, err := q.Receive(context.Background(), 10, time.Second)
	assert.ErrorIs(t, err, transport.ErrTransport)
	assert.ErrorIs(t, err, cause)
}

func TestQueue_Send(t *testing.T) {
	api := &fakeAPI{sendOut: &sqs.SendMessageOutput{MessageId: aws.String("m-1")}}
	q := newTestQueue(t, api)

	id, err := q.Send(context.Background(), "alice: hi | to: bob")
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
	assert.Equal(t, "alice: hi | to: bob", aws.ToString(api.sendIn.MessageBody))
}

func TestQueue_SendEmptyIDIsFailure(t *testing.T) {
	q := newTestQueue(t, &fakeAPI{sendOut: &sqs.SendMessageOutput{}})

	_, err := q.Send(context.Background(), "alice: hi | to: bob")
	assert.ErrorIs(t, err, transport.ErrTransport)
	assert.ErrorIs(t, err, transport.ErrNoMessageID)
}

func TestQueue_SendFailure(t *testing.T) {
	q := newTestQueue(t, &fakeAPI{sendErr: errors.New("denied")})

	_, err := q.Send(context.Background(), "alice: hi | to: bob")
	assert.ErrorIs(t, err, transport.ErrTransport)
}

func TestQueue_OpenSharesQueue(t *testing.T) {
	q := newTestQueue(t, &fakeAPI{})

	tr, err := q.Open(context.Background(), "alice")
	require.NoError(t, err)
	assert.Same(t, q, tr)
}
