package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type recordingNotifier struct {
	got []Emergency
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, e Emergency) error {
	r.got = append(r.got, e)
	return r.err
}

func TestMultiNotifier_FansOutAndReturnsLastError(t *testing.T) {
	var buf bytes.Buffer
	a := &recordingNotifier{err: errors.New("boom")}
	b := &recordingNotifier{}
	m := NewMultiNotifier(zerolog.New(&buf), a, nil, b)
	require.Len(t, m.Notifiers, 2)

	err := m.Notify(context.Background(), Emergency{ConversationID: "c1"})
	assert.EqualError(t, err, "boom")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
	assert.Contains(t, buf.String(), "notifier failed")
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))
	require.NoError(t, n.Notify(context.Background(), Emergency{ConversationID: "c1", TurnID: "t1", Timestamp: time.Now()}))
	assert.Contains(t, buf.String(), `"conversation":"c1"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.NoError(t, NopNotifier{}.Notify(context.Background(), Emergency{}))
}

type fakeMessages struct {
	params []*twilioApi.CreateMessageParams
	resp   *twilioApi.ApiV2010Message
	err    error
}

func (f *fakeMessages) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, p)
	return f.resp, f.err
}

func TestSMSNotifier(t *testing.T) {
	_, err := NewSMSNotifier(TwilioConfig{AccountSID: "AC1"})
	assert.Error(t, err)

	n, err := NewSMSNotifier(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", From: "+15550001", To: "+15550002"})
	require.NoError(t, err)
	fake := &fakeMessages{}
	n.api = fake

	require.NoError(t, n.Notify(context.Background(), Emergency{ConversationID: "c9", Symptoms: "crushing chest pain"}))
	require.Len(t, fake.params, 1)
	assert.Equal(t, "+15550002", *fake.params[0].To)
	assert.Equal(t, "+15550001", *fake.params[0].From)
	assert.Contains(t, *fake.params[0].Body, "crushing chest pain")
	assert.Nil(t, fake.params[0].StatusCallback)

	n.callback = "https://medibot.example/twilio/sms-status"
	require.NoError(t, n.Notify(context.Background(), Emergency{ConversationID: "c9"}))
	require.Len(t, fake.params, 2)
	assert.Equal(t, n.callback, *fake.params[1].StatusCallback)

	fake.err = errors.New("rate limited")
	assert.ErrorContains(t, n.Notify(context.Background(), Emergency{}), "rate limited")
}

func TestSMSBodyTruncates(t *testing.T) {
	body := smsBody(Emergency{ConversationID: "c", Symptoms: strings.Repeat("a", 300)})
	assert.Contains(t, body, strings.Repeat("a", 140)+"...")
	assert.NotContains(t, body, strings.Repeat("a", 141))
}
