package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tippelaget/clients/notifier"
	"tippelaget/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// maxMessageLen is Discord's hard limit for a plain message.
const maxMessageLen = 2000

// AskFunc answers a chat question as the named assistant persona.
type AskFunc func(ctx context.Context, persona, question string) string

// DiscordClient posts reports to a channel and answers assistant commands.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
	commands  bool

	removeHandler func()
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	dc := &DiscordClient{
		logger:    logger,
		channelID: channelID,
		isProd:    cfg.IsProd,
		commands:  cfg.Discord.CommandsEnabled,
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord reports disabled")
		return dc
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return dc
	}
	dc.session = session

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)
	return dc
}

// Enabled reports whether a session exists.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil
}

// SendMessage sends a plain text message to the report channel.
func (dc *DiscordClient) SendMessage(message string) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping message")
		return
	}

	if _, err := dc.session.ChannelMessageSend(dc.channelID, truncate(message, maxMessageLen)); err != nil {
		dc.logger.Error("failed to send discord message", zap.Error(err))
		return
	}
	dc.logger.Info("sent discord message")
}

// SendReport sends the gameweek report as an embed.
func (dc *DiscordClient) SendReport(report notifier.Report) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping report")
		return
	}

	if _, err := dc.session.ChannelMessageSendEmbed(dc.channelID, buildReportEmbed(report)); err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord report", zap.Int("gameweek", report.Gameweek))
}

func buildReportEmbed(r notifier.Report) *discordgo.MessageEmbed {
	color := 0x2ECC71 // team is up
	if r.TeamDiff.IsNegative() {
		color = 0xE74C3C
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "💰 Payout", Value: notifier.FormatNOK(r.TeamPayout), Inline: true},
		{Name: "🎟️ Staked", Value: notifier.FormatNOK(r.TeamStake), Inline: true},
		{Name: "📈 Difference", Value: notifier.FormatSignedNOK(r.TeamDiff), Inline: true},
	}

	if r.TopEarner != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "👑 Top earner",
			Value:  fmt.Sprintf("%s (%s)", r.TopEarner.Player, notifier.FormatNOK(r.TopEarner.Value)),
			Inline: false,
		})
	}
	if r.Luckiest != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "🍀 Luckiest",
			Value:  fmt.Sprintf("%s (%s)", r.Luckiest.Player, r.Luckiest.Value.StringFixed(2)),
			Inline: true,
		})
	}
	if r.Unluckiest != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "🌧️ Unluckiest",
			Value:  fmt.Sprintf("%s (%s)", r.Unluckiest.Player, r.Unluckiest.Value.StringFixed(2)),
			Inline: true,
		})
	}

	switch {
	case r.FundNote != "":
		fields = append(fields, &discordgo.MessageEmbedField{Name: "🏦 Tippekassa", Value: r.FundNote})
	case r.FundPayout.Valid && r.FundStake.Valid:
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "🏦 Tippekassa",
			Value: fmt.Sprintf("%s paid out vs %s in",
				notifier.FormatNOK(r.FundPayout.Decimal), notifier.FormatNOK(r.FundStake.Decimal)),
		})
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("📊 Gameweek %d wrap-up", r.Gameweek),
		URL:         r.DashboardURL,
		Description: fmt.Sprintf("%d bets so far this season", r.BetCount),
		Color:       color,
		Fields:      fields,
		Timestamp:   ts.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "tippelaget"},
	}
}

// HandleCommands answers "!prophet <question>" and "!king <question>" in any
// channel the bot can read, and opens the gateway connection. It is a no-op
// without a session or with commands disabled.
func (dc *DiscordClient) HandleCommands(ctx context.Context, ask AskFunc) error {
	if dc.session == nil || !dc.commands || ask == nil {
		return nil
	}

	dc.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	dc.removeHandler = dc.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		persona, question, ok := parseCommand(m.Content)
		if !ok {
			return
		}

		dc.logger.Info("assistant command",
			zap.String("persona", persona),
			zap.String("author", m.Author.Username),
		)
		answer := ask(ctx, persona, question)
		if _, err := s.ChannelMessageSend(m.ChannelID, truncate(answer, maxMessageLen)); err != nil {
			dc.logger.Error("failed to reply to command", zap.Error(err))
		}
	})

	if err := dc.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	dc.logger.Info("discord commands enabled")
	return nil
}

// parseCommand splits "!persona question" into its parts.
func parseCommand(content string) (persona, question string, ok bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "!") {
		return "", "", false
	}
	cmd, rest, _ := strings.Cut(content[1:], " ")
	switch strings.ToLower(cmd) {
	case "prophet", "king":
		return strings.ToLower(cmd), strings.TrimSpace(rest), true
	default:
		return "", "", false
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (dc *DiscordClient) Close() error {
	if dc.removeHandler != nil {
		dc.removeHandler()
	}
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
