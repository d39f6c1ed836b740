package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"tippelaget/config"
	"tippelaget/internal/bets"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Completer produces a chat completion for a single user prompt.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Answer is the outcome of one question. Failures are carried in Error so
// callers can show them inline.
type Answer struct {
	Persona  string    `json:"persona"`
	Byline   string    `json:"byline,omitempty"`
	Question string    `json:"question"`
	Text     string    `json:"text,omitempty"`
	Error    string    `json:"error,omitempty"`
	Model    string    `json:"model,omitempty"`
	AskedAt  time.Time `json:"asked_at"`
	Rows     int       `json:"rows"`
	Skipped  bool      `json:"skipped,omitempty"`
}

// Service answers questions as one of the personas using the tail of the
// normalized bet table as context.
type Service struct {
	logger      *zap.Logger
	completer   Completer
	personas    map[string]Persona
	limiters    map[string]*rate.Limiter
	snippetRows int
	now         func() time.Time
}

func New(logger *zap.Logger, cfg *config.Config, completer Completer) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	oc := cfg.OpenAI
	personas := map[string]Persona{
		Prophet: prophet(oc.ProphetModel),
		King:    king(oc.KingModel),
	}

	perSecond := rate.Inf
	burst := 1
	if oc.RequestsPerMinute > 0 {
		perSecond = rate.Limit(float64(oc.RequestsPerMinute) / 60)
		burst = max(1, oc.RequestsPerMinute/10)
	}
	limiters := make(map[string]*rate.Limiter, len(personas))
	for name := range personas {
		limiters[name] = rate.NewLimiter(perSecond, burst)
	}

	return &Service{
		logger:      logger,
		completer:   completer,
		personas:    personas,
		limiters:    limiters,
		snippetRows: oc.SnippetRows,
		now:         time.Now,
	}
}

// Personas returns the configured personas sorted by name.
func (s *Service) Personas() []Persona {
	out := make([]Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Persona looks up a persona by name, case-insensitively.
func (s *Service) Persona(name string) (Persona, bool) {
	p, ok := s.personas[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Ask answers question as persona. An empty question makes no call and
// returns a skipped answer.
func (s *Service) Ask(ctx context.Context, persona, question string, bs []bets.Bet) Answer {
	question = strings.TrimSpace(question)
	ans := Answer{Persona: persona, Question: question, AskedAt: s.now()}

	p, ok := s.Persona(persona)
	if !ok {
		ans.Error = fmt.Sprintf("unknown assistant %q", persona)
		return ans
	}
	ans.Persona = p.Name
	ans.Byline = p.Byline
	ans.Model = p.Model

	if question == "" {
		ans.Skipped = true
		return ans
	}

	if !s.limiters[p.Name].Allow() {
		ans.Error = fmt.Sprintf("%s is busy, try again in a minute", p.Title)
		return ans
	}

	snippet := Snippet(bs, s.snippetRows)
	ans.Rows = len(snippet)

	prompt, err := BuildPrompt(p, snippet, question)
	if err != nil {
		ans.Error = err.Error()
		return ans
	}

	text, err := s.completer.Complete(ctx, p.Model, prompt)
	if err != nil {
		s.logger.Warn("assistant completion failed",
			zap.String("persona", p.Name),
			zap.Error(err),
		)
		ans.Error = fmt.Sprintf("Error calling OpenAI API: %v", err)
		return ans
	}

	ans.Text = strings.TrimSpace(text)
	s.logger.Info("assistant answered",
		zap.String("persona", p.Name),
		zap.Int("rows", ans.Rows),
	)
	return ans
}

// snippetColumns are the fields of each row handed to the model.
var snippetColumns = []string{
	bets.ColPlayer,
	bets.ColGameweekNum,
	bets.ColPayout,
	bets.ColStake,
	bets.ColOdds,
	bets.ColWon,
	bets.ColDescription,
	bets.ColDate,
	bets.ColExpectedPayout,
}

// Snippet returns the last n bets as rows of the snippet columns. Money is
// rendered as plain numbers and missing values as null.
func Snippet(bs []bets.Bet, n int) []map[string]any {
	if n <= 0 || len(bs) == 0 {
		return []map[string]any{}
	}
	if len(bs) > n {
		bs = bs[len(bs)-n:]
	}

	out := make([]map[string]any, len(bs))
	for i, b := range bs {
		row := make(map[string]any, len(snippetColumns))
		row[bets.ColPlayer] = b.Player
		row[bets.ColGameweekNum] = b.GameweekNum
		row[bets.ColStake] = b.Stake.InexactFloat64()
		row[bets.ColWon] = b.Won
		row[bets.ColDescription] = b.Description
		row[bets.ColPayout] = nullFloat(b.Payout.Valid, b.Payout.Decimal.InexactFloat64())
		row[bets.ColOdds] = nullFloat(b.Odds.Valid, b.Odds.Decimal.InexactFloat64())
		row[bets.ColExpectedPayout] = nullFloat(b.ExpectedPayout.Valid, b.ExpectedPayout.Decimal.InexactFloat64())
		if b.HasDate() {
			row[bets.ColDate] = b.Date.Format(time.DateOnly)
		} else {
			row[bets.ColDate] = nil
		}
		out[i] = row
	}
	return out
}

func nullFloat(valid bool, v float64) any {
	if !valid {
		return nil
	}
	return v
}

// BuildPrompt wraps the snippet and question in the persona's instructions.
func BuildPrompt(p Persona, snippet []map[string]any, question string) (string, error) {
	data, err := json.Marshal(snippet)
	if err != nil {
		return "", fmt.Errorf("encode snippet: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(p.Intro)
	sb.WriteString(fmt.Sprintf("\nThe dataset (last %d rows) is:\n", len(snippet)))
	sb.Write(data)
	sb.WriteString("\n\n")
	sb.WriteString(p.Rules)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	return sb.String(), nil
}
