package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tippelaget/clients/notifier"
	"tippelaget/config"

	"go.uber.org/zap"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramClient sends reports to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	isProd   bool
	apiBase  string
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	tc := &TelegramClient{
		logger:  logger,
		chatID:  chatID,
		isProd:  cfg.IsProd,
		apiBase: telegramAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram reports disabled")
		return tc
	}
	tc.botToken = token

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)
	return tc
}

// SendReport sends the gameweek report.
func (tc *TelegramClient) SendReport(report notifier.Report) {
	if tc.botToken == "" || tc.chatID == "" {
		tc.logger.Warn("telegram not configured, skipping report")
		return
	}

	if err := tc.sendMessage(buildReportMessage(report)); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram report", zap.Int("gameweek", report.Gameweek))
}

func buildReportMessage(r notifier.Report) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*📊 Gameweek %d wrap-up*\n\n", r.Gameweek))
	sb.WriteString(fmt.Sprintf("*Payout:* %s\n", notifier.FormatNOK(r.TeamPayout)))
	sb.WriteString(fmt.Sprintf("*Staked:* %s\n", notifier.FormatNOK(r.TeamStake)))
	sb.WriteString(fmt.Sprintf("*Difference:* %s\n", notifier.FormatSignedNOK(r.TeamDiff)))

	if r.TopEarner != nil || r.Luckiest != nil || r.Unluckiest != nil {
		sb.WriteString("\n")
	}
	if r.TopEarner != nil {
		sb.WriteString(fmt.Sprintf("👑 *Top earner:* %s (%s)\n",
			escapeMarkdown(r.TopEarner.Player), notifier.FormatNOK(r.TopEarner.Value)))
	}
	if r.Luckiest != nil {
		sb.WriteString(fmt.Sprintf("🍀 *Luckiest:* %s (%s)\n",
			escapeMarkdown(r.Luckiest.Player), r.Luckiest.Value.StringFixed(2)))
	}
	if r.Unluckiest != nil {
		sb.WriteString(fmt.Sprintf("🌧 *Unluckiest:* %s (%s)\n",
			escapeMarkdown(r.Unluckiest.Player), r.Unluckiest.Value.StringFixed(2)))
	}

	switch {
	case r.FundNote != "":
		sb.WriteString(fmt.Sprintf("\n🏦 *Tippekassa:* %s\n", escapeMarkdown(r.FundNote)))
	case r.FundPayout.Valid && r.FundStake.Valid:
		sb.WriteString(fmt.Sprintf("\n🏦 *Tippekassa:* %s paid out vs %s in\n",
			notifier.FormatNOK(r.FundPayout.Decimal), notifier.FormatNOK(r.FundStake.Decimal)))
	}

	if r.DashboardURL != "" {
		sb.WriteString(fmt.Sprintf("\n[Open dashboard](%s)", r.DashboardURL))
	}
	return sb.String()
}

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/%s", tc.apiBase, tc.botToken, "sendMessage")

	payload := map[string]any{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
