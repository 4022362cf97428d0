// Package discord delivers reminders to a Discord channel with Yes/No buttons
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/gmsas95/hemotrack/internal/config"
	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/notify"
	"github.com/gmsas95/hemotrack/internal/store"
	"go.uber.org/zap"
)

// Answerer records the reply to a reminder
type Answerer interface {
	Answer(ctx context.Context, responseID uint, taken bool) (*store.ProphylaxisResponse, error)
}

// session is the part of discordgo.Session the bot uses
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Bot represents a Discord bot instance
type Bot struct {
	dg        *discordgo.Session
	session   session
	channelID string
	answerer  Answerer
	logger    *zap.Logger
}

// NewBot creates a new Discord bot posting to the configured channel
func NewBot(cfg config.DiscordConfig, answerer Answerer, logger *zap.Logger) (*Bot, error) {
	if cfg.Token == "" || cfg.ChannelID == "" {
		return nil, apperrors.ErrChannelNotConfigured.WithMessage("discord needs token and channel_id")
	}

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, apperrors.ErrChannelUnavailable.WithCause(fmt.Errorf("failed to create discord session: %w", err))
	}

	b := newBot(dg, cfg.ChannelID, answerer, logger)
	b.dg = dg

	dg.AddHandler(b.ready)
	dg.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handleInteraction(context.Background(), i.Interaction)
	})
	dg.Identify.Intents = discordgo.IntentsGuildMessages

	return b, nil
}

func newBot(s session, channelID string, answerer Answerer, logger *zap.Logger) *Bot {
	return &Bot{
		session:   s,
		channelID: channelID,
		answerer:  answerer,
		logger:    logger,
	}
}

func (b *Bot) Name() string { return "discord" }

// Start opens the gateway connection
func (b *Bot) Start() error {
	if b.dg == nil {
		return nil
	}
	if err := b.dg.Open(); err != nil {
		return apperrors.ErrChannelUnavailable.WithCause(fmt.Errorf("failed to open discord connection: %w", err))
	}
	return nil
}

// Stop closes the gateway connection
func (b *Bot) Stop() error {
	if b.dg == nil {
		return nil
	}
	return b.dg.Close()
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("Discord bot ready",
		zap.String("username", s.State.User.Username),
		zap.Int("guilds", len(event.Guilds)),
	)
}

// Notify posts n with its action buttons to the channel
func (b *Bot) Notify(_ context.Context, n notify.Notification) error {
	if _, err := b.session.ChannelMessageSendComplex(b.channelID, reminderMessage(n)); err != nil {
		return apperrors.ErrChannelUnavailable.WithCause(err)
	}
	return nil
}

func reminderMessage(n notify.Notification) *discordgo.MessageSend {
	content := fmt.Sprintf("**%s**\n%s", n.Title, n.Body)
	if !n.ScheduledFor.IsZero() {
		content += fmt.Sprintf("\nScheduled for <t:%d:f>", n.ScheduledFor.Unix())
	}
	msg := &discordgo.MessageSend{Content: content}
	if len(n.Actions) == 0 {
		return msg
	}

	buttons := make([]discordgo.MessageComponent, 0, len(n.Actions))
	for i, a := range n.Actions {
		style := discordgo.SecondaryButton
		if i == 0 {
			style = discordgo.SuccessButton
		}
		buttons = append(buttons, discordgo.Button{
			Label:    a.Label,
			Style:    style,
			CustomID: a.Data,
		})
	}
	msg.Components = []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
	return msg
}

// handleInteraction resolves a button press into an answer
func (b *Bot) handleInteraction(ctx context.Context, i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	if i.ChannelID != b.channelID {
		b.respond(i, "Not allowed here.", false)
		return
	}

	action, err := notify.ParseActionData(i.MessageComponentData().CustomID)
	if err != nil {
		b.respond(i, "Unknown action.", false)
		return
	}

	resp, err := b.answerer.Answer(ctx, action.ResponseID, action.Taken)
	switch {
	case err == nil:
		text := "Recorded as taken."
		if resp.Answer == store.AnswerNo {
			text = "Recorded as not taken."
		}
		b.respond(i, text, true)
	case errors.Is(err, apperrors.ErrResponseAlreadyGiven):
		b.respond(i, "Already answered.", true)
	default:
		b.logger.Error("Failed to record answer", zap.Uint("response_id", action.ResponseID), zap.Error(err))
		b.respond(i, "Could not record the answer.", false)
	}
}

// respond acknowledges an interaction. Closing replaces the buttons with the reply.
func (b *Bot) respond(i *discordgo.Interaction, text string, closing bool) {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
	if closing {
		content := text
		if i.Message != nil {
			content = i.Message.Content + "\n" + text
		}
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Content:    content,
				Components: []discordgo.MessageComponent{},
			},
		}
	}
	if err := b.session.InteractionRespond(i, resp); err != nil {
		b.logger.Warn("Failed to respond to interaction", zap.Error(err))
	}
}
