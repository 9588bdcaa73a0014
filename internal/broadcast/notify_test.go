package broadcast

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

type fakeSlack struct {
	channels []string
	err      error
}

func (f *fakeSlack) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.channels = append(f.channels, channelID)
	return channelID, "1700000000.000100", f.err
}

type fakeDiscord struct {
	messages []string
}

func (f *fakeDiscord) ChannelMessageSend(_ string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.messages = append(f.messages, content)
	return &discordgo.Message{Content: content}, nil
}

func TestSummarize(t *testing.T) {
	cases := []struct {
		name     string
		ev       Event
		insights bool
		want     bool
	}{
		{"partial generation", GenerationEvent{Content: "half"}, true, false},
		{"complete generation", GenerationEvent{Content: "done", IsComplete: true}, false, true},
		{"insight muted", InsightEvent{Content: "x"}, false, false},
		{"insight enabled", InsightEvent{Content: "x"}, true, true},
		{"reflection", ReflectionEvent{Content: "x"}, true, false},
		{"performance", PerformanceEvent{}, true, false},
	}
	for _, tc := range cases {
		if _, ok := summarize(tc.ev, tc.insights); ok != tc.want {
			t.Errorf("%s: summarize = %v, want %v", tc.name, ok, tc.want)
		}
	}
}

func TestSlackNotifier(t *testing.T) {
	fake := &fakeSlack{}
	n := &SlackNotifier{client: fake, channel: "C123", logger: zap.NewNop()}
	ctx := context.Background()

	if err := n.Notify(ctx, GenerationEvent{Content: "partial"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := n.Notify(ctx, GenerationEvent{Content: "final", IsComplete: true}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(fake.channels) != 1 || fake.channels[0] != "C123" {
		t.Errorf("posted to %v, want one post to C123", fake.channels)
	}

	fake.err = errors.New("channel_not_found")
	if err := n.Notify(ctx, GenerationEvent{Content: "final", IsComplete: true}); err == nil {
		t.Error("expected the slack error to surface")
	}
}

func TestDiscordNotifierTruncates(t *testing.T) {
	fake := &fakeDiscord{}
	n := &DiscordNotifier{session: fake, channel: "42", insights: true, logger: zap.NewNop()}

	long := strings.Repeat("word ", 1000)
	if err := n.Notify(context.Background(), GenerationEvent{Content: long, IsComplete: true}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := n.Notify(context.Background(), InsightEvent{InsightKind: "learning", Content: "tides"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(fake.messages) != 2 {
		t.Fatalf("sent %d messages, want 2", len(fake.messages))
	}
	if n := len([]rune(fake.messages[0])); n > discordMessageLimit {
		t.Errorf("message has %d runes, limit is %d", n, discordMessageLimit)
	}
	if !strings.HasPrefix(fake.messages[1], "**[learning]**") {
		t.Errorf("insight message = %q, want discord bold markup", fake.messages[1])
	}
}
