package discord

import (
	"context"
	"strings"
	"testing"
	"time"

	"tippelaget/clients/notifier"
	"tippelaget/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestNewDiscordClient_NoToken(t *testing.T) {
	cfg := &config.Config{
		Discord: config.DiscordConfig{
			ProdChannelID: "prod-channel",
			BetaChannelID: "beta-channel",
		},
	}

	client := NewDiscordClient(zap.NewNop(), cfg)

	if client.session != nil {
		t.Error("expected nil session when no token provided")
	}
	if client.Enabled() {
		t.Error("expected client to be disabled")
	}
	if client.channelID != "beta-channel" {
		t.Errorf("expected beta channel, got: %s", client.channelID)
	}
}

func TestNewDiscordClient_ProdChannel(t *testing.T) {
	cfg := &config.Config{
		IsProd: true,
		Discord: config.DiscordConfig{
			ProdChannelID: "prod-channel",
			BetaChannelID: "beta-channel",
		},
	}

	client := NewDiscordClient(nil, cfg)

	if client.channelID != "prod-channel" {
		t.Errorf("expected prod channel, got: %s", client.channelID)
	}
}

func TestSendWithoutSession(t *testing.T) {
	client := &DiscordClient{logger: zap.NewNop()}

	// Should not panic
	client.SendMessage("test message")
	client.SendReport(notifier.Report{Gameweek: 3})

	if err := client.HandleCommands(context.Background(), func(context.Context, string, string) string { return "" }); err != nil {
		t.Errorf("expected no-op without session, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("expected nil close error, got %v", err)
	}
}

func TestBuildReportEmbed(t *testing.T) {
	report := notifier.Report{
		Gameweek:     12,
		BetCount:     96,
		TeamPayout:   decimal.NewFromInt(4200),
		TeamStake:    decimal.NewFromInt(4800),
		TeamDiff:     decimal.NewFromInt(-600),
		TopEarner:    &notifier.PlayerFigure{Player: "alice", Value: decimal.NewFromInt(1500)},
		Luckiest:     &notifier.PlayerFigure{Player: "bob", Value: decimal.RequireFromString("1.8")},
		Unluckiest:   &notifier.PlayerFigure{Player: "tobias", Value: decimal.RequireFromString("0.25")},
		FundPayout:   decimal.NewNullDecimal(decimal.NewFromInt(7200)),
		FundStake:    decimal.NewNullDecimal(decimal.NewFromInt(7800)),
		DashboardURL: "https://tippelaget.example/",
		Timestamp:    time.Date(2025, 11, 2, 20, 0, 0, 0, time.UTC),
	}

	embed := buildReportEmbed(report)

	if embed.Title != "📊 Gameweek 12 wrap-up" {
		t.Errorf("unexpected title: %s", embed.Title)
	}
	if embed.Color != 0xE74C3C {
		t.Errorf("expected red for a losing team, got %x", embed.Color)
	}
	if embed.URL != report.DashboardURL {
		t.Errorf("expected dashboard url, got %s", embed.URL)
	}
	if embed.Timestamp != "2025-11-02T20:00:00Z" {
		t.Errorf("unexpected timestamp: %s", embed.Timestamp)
	}

	values := make(map[string]string)
	for _, f := range embed.Fields {
		values[f.Name] = f.Value
	}
	expected := map[string]string{
		"📈 Difference":  "-600 NOK",
		"👑 Top earner":  "alice (1500 NOK)",
		"🍀 Luckiest":    "bob (1.80)",
		"🌧️ Unluckiest": "tobias (0.25)",
		"🏦 Tippekassa":  "7200 NOK paid out vs 7800 NOK in",
	}
	for name, want := range expected {
		if values[name] != want {
			t.Errorf("field %s: expected %q, got %q", name, want, values[name])
		}
	}
}

func TestBuildReportEmbed_FundNote(t *testing.T) {
	embed := buildReportEmbed(notifier.Report{
		Gameweek: 1,
		TeamDiff: decimal.NewFromInt(10),
		FundNote: "1 deposit(s) dated before the first gameweek",
	})

	if embed.Color != 0x2ECC71 {
		t.Errorf("expected green, got %x", embed.Color)
	}
	last := embed.Fields[len(embed.Fields)-1]
	if last.Name != "🏦 Tippekassa" || !strings.Contains(last.Value, "before the first gameweek") {
		t.Errorf("expected fund note field, got %+v", last)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		content  string
		persona  string
		question string
		ok       bool
	}{
		{"!prophet who wins GW5?", "prophet", "who wins GW5?", true},
		{"  !KING hvem er best?  ", "king", "hvem er best?", true},
		{"!king", "king", "", true},
		{"!oracle hello", "", "", false},
		{"prophet hello", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			persona, question, ok := parseCommand(tt.content)
			if ok != tt.ok || persona != tt.persona || question != tt.question {
				t.Errorf("expected (%q, %q, %v), got (%q, %q, %v)",
					tt.persona, tt.question, tt.ok, persona, question, ok)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("expected unchanged, got %s", got)
	}
	got := truncate(strings.Repeat("å", 30), 10)
	if len([]rune(got)) != 10 || !strings.HasSuffix(got, "…") {
		t.Errorf("expected 10 runes ending in ellipsis, got %q", got)
	}
}
