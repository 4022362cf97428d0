// Package telegram delivers reminders through a Telegram bot with inline Yes/No buttons
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gmsas95/hemotrack/internal/config"
	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/notify"
	"github.com/gmsas95/hemotrack/internal/store"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Answerer records the reply to a reminder
type Answerer interface {
	Answer(ctx context.Context, responseID uint, taken bool) (*store.ProphylaxisResponse, error)
}

// api is the part of tgbotapi.BotAPI the bot uses
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot represents a Telegram bot integration
type Bot struct {
	bot      *tgbotapi.BotAPI
	api      api
	chatID   int64
	answerer Answerer
	store    *store.Store
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewBot creates a new Telegram bot. Only the configured chat may use it.
func NewBot(cfg config.TelegramConfig, answerer Answerer, st *store.Store, logger *zap.Logger) (*Bot, error) {
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, apperrors.ErrChannelNotConfigured.WithMessage("telegram needs bot_token and chat_id")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, apperrors.ErrChannelUnavailable.WithCause(fmt.Errorf("failed to create bot: %w", err))
	}
	botAPI.Debug = false
	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	b := newBot(botAPI, cfg.ChatID, answerer, st, logger)
	b.bot = botAPI
	return b, nil
}

func newBot(a api, chatID int64, answerer Answerer, st *store.Store, logger *zap.Logger) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		api:      a,
		chatID:   chatID,
		answerer: answerer,
		store:    st,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (b *Bot) Name() string { return "telegram" }

// Start starts polling for updates
func (b *Bot) Start() error {
	if b.bot == nil {
		return nil
	}
	b.wg.Add(1)
	go b.run()
	return nil
}

// Stop stops the bot
func (b *Bot) Stop() {
	b.cancel()
	if b.bot != nil {
		b.bot.StopReceivingUpdates()
	}
	b.wg.Wait()
}

func (b *Bot) run() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.bot.GetUpdatesChan(u)

	for {
		select {
		case <-b.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.handleUpdate(b.ctx, update); err != nil {
				b.logger.Error("Failed to handle update", zap.Error(err))
			}
		}
	}
}

// Notify sends n with its action buttons to the configured chat
func (b *Bot) Notify(_ context.Context, n notify.Notification) error {
	if _, err := b.api.Send(reminderMessage(b.chatID, n)); err != nil {
		return apperrors.ErrChannelUnavailable.WithCause(err)
	}
	return nil
}

func reminderMessage(chatID int64, n notify.Notification) tgbotapi.MessageConfig {
	text := fmt.Sprintf("*%s*\n%s", n.Title, n.Body)
	if !n.ScheduledFor.IsZero() {
		text += fmt.Sprintf("\n_Scheduled for %s_", n.ScheduledFor.Format("Mon 2 Jan 15:04"))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if len(n.Actions) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(n.Actions))
		for _, a := range n.Actions {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Data))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}
	return msg
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		return b.handleCallback(ctx, update.CallbackQuery)
	}

	msg := update.Message
	if msg == nil {
		return nil
	}
	if msg.Chat.ID != b.chatID {
		b.logger.Warn("Ignoring message from unknown chat", zap.Int64("chat_id", msg.Chat.ID))
		return nil
	}
	if msg.IsCommand() {
		return b.handleCommand(ctx, msg)
	}
	return nil
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q.Message == nil || q.Message.Chat.ID != b.chatID {
		_, err := b.api.Request(tgbotapi.NewCallback(q.ID, "Not allowed"))
		return err
	}

	action, err := notify.ParseActionData(q.Data)
	if err != nil {
		_, rerr := b.api.Request(tgbotapi.NewCallback(q.ID, "Unknown action"))
		return rerr
	}

	reply := "Recorded, thank you"
	resp, err := b.answerer.Answer(ctx, action.ResponseID, action.Taken)
	switch {
	case err == nil:
		if resp.Answer == store.AnswerNo {
			reply = "Recorded as not taken"
		}
	case errors.Is(err, apperrors.ErrResponseAlreadyGiven):
		reply = "Already answered"
	default:
		b.logger.Error("Failed to record answer", zap.Uint("response_id", action.ResponseID), zap.Error(err))
		reply = "Could not record the answer"
	}

	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, reply)); err != nil {
		return err
	}

	// drop the buttons so the reminder cannot be answered twice
	edit := tgbotapi.NewEditMessageReplyMarkup(q.Message.Chat.ID, q.Message.MessageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	_, err = b.api.Request(edit)
	return err
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		return b.sendText(chatID, `*hemotrack*

Reminders arrive here with Yes/No buttons.

/pending - List unanswered reminders
/last - Show the last infusion`)

	case "pending":
		open, err := b.store.OpenResponses(ctx, 5)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return b.sendText(chatID, "No unanswered reminders.")
		}
		for _, r := range open {
			n := notify.Notification{
				ResponseID:   r.ID,
				Title:        "Unanswered reminder",
				Body:         fmt.Sprintf("%s %d IU. Did you take it?", r.Drug, r.DoseIU),
				ScheduledFor: r.ScheduledFor,
				Actions:      notify.ResponseActions(r.ID),
			}
			if _, err := b.api.Send(reminderMessage(chatID, n)); err != nil {
				return err
			}
		}
		return nil

	case "last":
		rows, err := b.store.Infusions.List(ctx, store.ListOptions{Limit: 1})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return b.sendText(chatID, "No infusions logged yet.")
		}
		inf := rows[0]
		ago := time.Since(inf.InfusedAt).Round(time.Hour)
		return b.sendText(chatID, fmt.Sprintf("Last infusion: %s %d IU (%s), %s ago", inf.Drug, inf.DoseIU, strings.ReplaceAll(inf.Reason, "_", " "), ago))
	}

	return b.sendText(chatID, "Unknown command. Use /help for available commands.")
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := b.api.Send(msg)
	return err
}
