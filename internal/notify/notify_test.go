package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNotifier struct {
	name string
	err  error
	got  []Notification
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Notify(_ context.Context, n Notification) error {
	f.got = append(f.got, n)
	return f.err
}

type recorder struct {
	calls map[string]int
}

func (r *recorder) RecordNotification(channel string, err error) {
	if err == nil {
		r.calls[channel]++
	}
}

func TestActionData(t *testing.T) {
	assert.Equal(t, "resp:12:yes", EncodeAction(12, true))
	assert.Equal(t, "resp:12:no", EncodeAction(12, false))

	ad, err := ParseActionData("resp:12:yes")
	require.NoError(t, err)
	assert.Equal(t, uint(12), ad.ResponseID)
	assert.True(t, ad.Taken)

	ad, err = ParseActionData(EncodeAction(7, false))
	require.NoError(t, err)
	assert.False(t, ad.Taken)

	for _, bad := range []string{"", "resp:1", "resp:x:yes", "resp:0:yes", "resp:1:maybe", "other:1:yes"} {
		_, err := ParseActionData(bad)
		assert.Error(t, err, bad)
	}
}

func TestResponseActions(t *testing.T) {
	actions := ResponseActions(3)
	require.Len(t, actions, 2)
	assert.Equal(t, "resp:3:yes", actions[0].Data)
	assert.Equal(t, "resp:3:no", actions[1].Data)
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	failing := &fakeNotifier{name: "telegram", err: errors.New("network down")}
	ok := &fakeNotifier{name: "log"}
	rec := &recorder{calls: map[string]int{}}

	m := NewMulti(logger, rec, failing, ok)
	err := m.Notify(context.Background(), Notification{ResponseID: 1, Title: "Prophylaxis"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Len(t, failing.got, 1)
	assert.Len(t, ok.got, 1)
	assert.Equal(t, 1, rec.calls["log"])
	assert.Equal(t, 0, rec.calls["telegram"])
}

func TestMulti_Add(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMulti(logger, nil)
	n := &fakeNotifier{name: "a"}
	m.Add(n)

	require.NoError(t, m.Notify(context.Background(), Notification{}))
	assert.Len(t, n.got, 1)
}

func TestHub_Broadcast(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	assert.Equal(t, 2, h.Clients())

	require.NoError(t, h.Notify(context.Background(), Notification{ResponseID: 5}))
	assert.Equal(t, uint(5), (<-a).ResponseID)
	assert.Equal(t, uint(5), (<-b).ResponseID)

	cancelA()
	cancelA()
	assert.Equal(t, 1, h.Clients())
	_, open := <-a
	assert.False(t, open)

	cancelB()
	assert.Equal(t, 0, h.Clients())
}

func TestHub_DropsForSlowClients(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, h.Notify(context.Background(), Notification{ResponseID: uint(i + 1)}))
	}
	assert.Len(t, ch, subscriberBuffer)
}
