package telegram

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/notify"
	"github.com/gmsas95/hemotrack/internal/store"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAPI struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type fakeAnswerer struct {
	answers map[uint]string
}

func (f *fakeAnswerer) Answer(_ context.Context, id uint, taken bool) (*store.ProphylaxisResponse, error) {
	if prev, ok := f.answers[id]; ok {
		return &store.ProphylaxisResponse{ID: id, Answer: prev}, apperrors.ErrResponseAlreadyGiven
	}
	answer := store.AnswerNo
	if taken {
		answer = store.AnswerYes
	}
	f.answers[id] = answer
	return &store.ProphylaxisResponse{ID: id, Answer: answer}, nil
}

const chatID = int64(4242)

func newTestBot(t *testing.T) (*Bot, *fakeAPI, *fakeAnswerer) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	a := &fakeAPI{}
	ans := &fakeAnswerer{answers: map[uint]string{}}
	return newBot(a, chatID, ans, st, zap.NewNop()), a, ans
}

func callback(chat int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: chat}},
	}}
}

func TestReminderMessage(t *testing.T) {
	n := notify.Notification{
		ResponseID:   3,
		Title:        "Prophylaxis reminder",
		Body:         "Time for your FVIII dose (2000 IU). Did you take it?",
		ScheduledFor: time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC),
		Actions:      notify.ResponseActions(3),
	}
	msg := reminderMessage(chatID, n)

	assert.Equal(t, chatID, msg.ChatID)
	assert.Contains(t, msg.Text, "Prophylaxis reminder")
	assert.Contains(t, msg.Text, "Mon 4 Mar 08:00")

	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)
	assert.Equal(t, "resp:3:yes", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "resp:3:no", *kb.InlineKeyboard[0][1].CallbackData)
}

func TestNotify(t *testing.T) {
	b, a, _ := newTestBot(t)
	require.NoError(t, b.Notify(context.Background(), notify.Notification{Title: "t", Body: "b"}))
	require.Len(t, a.sent, 1)
	assert.Equal(t, "telegram", b.Name())
}

func TestCallbackAnswers(t *testing.T) {
	b, a, ans := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, b.handleUpdate(ctx, callback(chatID, "resp:5:yes")))
	assert.Equal(t, store.AnswerYes, ans.answers[5])
	require.Len(t, a.requests, 2, "callback ack and keyboard removal")
	ack := a.requests[0].(tgbotapi.CallbackConfig)
	assert.Equal(t, "Recorded, thank you", ack.Text)
	_, ok := a.requests[1].(tgbotapi.EditMessageReplyMarkupConfig)
	assert.True(t, ok)

	a.requests = nil
	require.NoError(t, b.handleUpdate(ctx, callback(chatID, "resp:5:no")))
	ack = a.requests[0].(tgbotapi.CallbackConfig)
	assert.Equal(t, "Already answered", ack.Text)
	assert.Equal(t, store.AnswerYes, ans.answers[5])
}

func TestCallbackRejected(t *testing.T) {
	b, a, ans := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, b.handleUpdate(ctx, callback(99, "resp:5:yes")))
	assert.Empty(t, ans.answers)
	assert.Equal(t, "Not allowed", a.requests[0].(tgbotapi.CallbackConfig).Text)

	a.requests = nil
	require.NoError(t, b.handleUpdate(ctx, callback(chatID, "something else")))
	assert.Empty(t, ans.answers)
	assert.Equal(t, "Unknown action", a.requests[0].(tgbotapi.CallbackConfig).Text)
}

func TestPendingCommand(t *testing.T) {
	b, a, _ := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, b.store.Responses.Create(ctx, &store.ProphylaxisResponse{
		Mode: store.ModeWeekly, ScheduledFor: time.Now(), Drug: "FVIII", DoseIU: 2000,
	}))

	update := tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     "/pending",
		Chat:     &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 8}},
	}}
	require.NoError(t, b.handleUpdate(ctx, update))
	require.Len(t, a.sent, 1)
	msg := a.sent[0].(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "FVIII 2000 IU")
	assert.NotNil(t, msg.ReplyMarkup)
}
