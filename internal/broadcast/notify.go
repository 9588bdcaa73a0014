package broadcast

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// discordMessageLimit is Discord's maximum message length.
const discordMessageLimit = 2000

// summarize renders the events worth a chat message: completed generations
// and, when insights is set, memory insights.
func summarize(ev Event, insights bool) (string, bool) {
	switch e := ev.(type) {
	case GenerationEvent:
		if !e.IsComplete {
			return "", false
		}
		return fmt.Sprintf("*Generation complete* (session %s, %d words, coherence %.0f, goal alignment %.0f)\n%s",
			e.SessionID, e.Metrics.Words, e.Metrics.Coherence, e.Metrics.GoalAlignment, e.Content), true
	case InsightEvent:
		if !insights {
			return "", false
		}
		return fmt.Sprintf("*[%s]* %s", e.InsightKind, e.Content), true
	case ReflectionEvent, PerformanceEvent:
		return "", false
	}
	return "", false
}

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts completed generations to a Slack channel.
type SlackNotifier struct {
	client   slackPoster
	channel  string
	insights bool
	logger   *zap.Logger
}

// NewSlackNotifier creates a notifier using a bot token (xoxb-...).
func NewSlackNotifier(botToken, channel string, insights bool, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:   slack.New(botToken),
		channel:  channel,
		insights: insights,
		logger:   logger,
	}
}

func (n *SlackNotifier) Name() string { return "slack" }

// Notify posts ev if it is worth a message.
func (n *SlackNotifier) Notify(ctx context.Context, ev Event) error {
	text, ok := summarize(ev, n.insights)
	if !ok {
		return nil
	}
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	n.logger.Debug("slack notification sent", zap.String("channel", n.channel))
	return nil
}

type discordSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts completed generations to a Discord channel
// through the REST API; no gateway connection is opened.
type DiscordNotifier struct {
	session  discordSender
	channel  string
	insights bool
	logger   *zap.Logger
}

// NewDiscordNotifier creates a notifier for a bot token.
func NewDiscordNotifier(token, channel string, insights bool, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordNotifier{
		session:  session,
		channel:  channel,
		insights: insights,
		logger:   logger,
	}, nil
}

func (n *DiscordNotifier) Name() string { return "discord" }

// Notify posts ev if it is worth a message.
func (n *DiscordNotifier) Notify(_ context.Context, ev Event) error {
	text, ok := summarize(ev, n.insights)
	if !ok {
		return nil
	}
	text = strings.ReplaceAll(text, "*", "**")
	if r := []rune(text); len(r) > discordMessageLimit {
		text = string(r[:discordMessageLimit-1]) + "…"
	}
	if _, err := n.session.ChannelMessageSend(n.channel, text); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	n.logger.Debug("discord notification sent", zap.String("channel", n.channel))
	return nil
}
