// Package mcptools exposes the season snapshot and the assistants as Model
// Context Protocol tools.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tippelaget/internal/assistant"
	"tippelaget/internal/metrics"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// ErrNotReady is returned by data tools before the first snapshot.
var ErrNotReady = errors.New("snapshot not ready yet")

// Backend supplies the data behind the tools.
type Backend interface {
	Snapshot() (metrics.Snapshot, bool)
	Personas() []assistant.Persona
	Ask(ctx context.Context, persona, question string) assistant.Answer
}

type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type TableArgs struct {
	Name string `json:"name" jsonschema:"Table name, one of list_tables (required)"`
}

type PlayerArgs struct {
	Player string `json:"player" jsonschema:"Player name as it appears in the bets (required)"`
}

type AskArgs struct {
	Persona  string `json:"persona" jsonschema:"Assistant persona: prophet or king (required)"`
	Question string `json:"question" jsonschema:"Question about the season (required)"`
}

type NoArgs struct{}

// Server is the MCP server with the tool registry.
type Server struct {
	logger   *zap.Logger
	backend  Backend
	server   *mcp.Server
	registry []ToolInfo
}

func New(logger *zap.Logger, backend Backend, version string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:  logger,
		backend: backend,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "tippelaget",
			Version: version,
		}, nil),
		registry: make([]ToolInfo, 0, 6),
	}

	addTool(s.server, &s.registry, &mcp.Tool{
		Name:        "list_tables",
		Description: "Lists the season tables that get_table can return",
	}, s.listTables)

	addTool(s.server, &s.registry, &mcp.Tool{
		Name:        "get_table",
		Description: "Returns one season table (payouts, odds, win rate, baselines, team total, luck, fund) as JSON",
	}, s.getTable)

	addTool(s.server, &s.registry, &mcp.Tool{
		Name:        "season_summary",
		Description: "Headline numbers: bet count, players, latest gameweek, team difference and luck extremes",
	}, s.seasonSummary)

	addTool(s.server, &s.registry, &mcp.Tool{
		Name:        "player_summary",
		Description: "One player's total payout, average odds, weekly win rate and luck ratio",
	}, s.playerSummary)

	addTool(s.server, &s.registry, &mcp.Tool{
		Name:        "list_personas",
		Description: "Lists the assistant personas that ask_assistant accepts",
	}, s.listPersonas)

	addTool(s.server, &s.registry, &mcp.Tool{
		Name:        "ask_assistant",
		Description: "Asks the Prophet or the King a question about the betting season",
	}, s.askAssistant)

	return s
}

func addTool[T any](server *mcp.Server, registry *[]ToolInfo, tool *mcp.Tool, handler func(context.Context, *mcp.CallToolRequest, T) (*mcp.CallToolResult, any, error)) {
	*registry = append(*registry, ToolInfo{Name: tool.Name, Description: tool.Description})
	mcp.AddTool(server, tool, handler)
}

// Tools lists the registered tools in registration order.
func (s *Server) Tools() []ToolInfo {
	out := make([]ToolInfo, len(s.registry))
	copy(out, s.registry)
	return out
}

// MCP returns the underlying server for in-process transports.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Handler serves the tools over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{JSONResponse: true})
}

func (s *Server) listTables(_ context.Context, _ *mcp.CallToolRequest, _ NoArgs) (*mcp.CallToolResult, any, error) {
	return toolJSON(map[string]any{"tables": metrics.TableNames})
}

func (s *Server) getTable(_ context.Context, _ *mcp.CallToolRequest, args TableArgs) (*mcp.CallToolResult, any, error) {
	snap, ok := s.backend.Snapshot()
	if !ok {
		return toolError(ErrNotReady), nil, nil
	}
	name := strings.ToLower(strings.TrimSpace(args.Name))
	table, ok := snap.Table(name)
	if !ok {
		return toolError(fmt.Errorf("unknown table %q, expected one of %s", args.Name, strings.Join(metrics.TableNames, ", "))), nil, nil
	}
	return toolJSON(map[string]any{
		"name":         name,
		"generated_at": snap.GeneratedAt,
		"rows":         table,
	})
}

type seasonSummary struct {
	BetCount       int                   `json:"bet_count"`
	Players        []string              `json:"players"`
	LatestGameweek int                   `json:"latest_gameweek"`
	Team           *metrics.TeamDiff     `json:"team,omitempty"`
	Luckiest       *metrics.LuckRatio    `json:"luckiest,omitempty"`
	Unluckiest     *metrics.LuckRatio    `json:"unluckiest,omitempty"`
	TopEarner      *metrics.PlayerAmount `json:"top_earner,omitempty"`
	FundError      string                `json:"fund_error,omitempty"`
}

func (s *Server) seasonSummary(_ context.Context, _ *mcp.CallToolRequest, _ NoArgs) (*mcp.CallToolResult, any, error) {
	snap, ok := s.backend.Snapshot()
	if !ok {
		return toolError(ErrNotReady), nil, nil
	}

	out := seasonSummary{
		BetCount:       snap.BetCount,
		Players:        snap.Players,
		LatestGameweek: snap.LatestGameweek,
		Team:           snap.TeamTotal.Difference,
		Luckiest:       snap.Luck.Luckiest,
		Unluckiest:     snap.Luck.Unluckiest,
		FundError:      snap.TippekassaError,
	}
	for i := range snap.TotalPayout {
		if out.TopEarner == nil || snap.TotalPayout[i].Amount.GreaterThan(out.TopEarner.Amount) {
			out.TopEarner = &snap.TotalPayout[i]
		}
	}
	return toolJSON(out)
}

type playerSummary struct {
	Player      string                `json:"player"`
	TotalPayout *metrics.PlayerAmount `json:"total_payout,omitempty"`
	AverageOdds *metrics.PlayerOdds   `json:"average_odds,omitempty"`
	WinRate     *metrics.PlayerRate   `json:"win_rate,omitempty"`
	Luck        *metrics.LuckRatio    `json:"luck,omitempty"`
}

func (s *Server) playerSummary(_ context.Context, _ *mcp.CallToolRequest, args PlayerArgs) (*mcp.CallToolResult, any, error) {
	snap, ok := s.backend.Snapshot()
	if !ok {
		return toolError(ErrNotReady), nil, nil
	}

	name := strings.TrimSpace(args.Player)
	match := func(p string) bool { return strings.EqualFold(p, name) }

	out := playerSummary{Player: name}
	for i := range snap.TotalPayout {
		if match(snap.TotalPayout[i].Player) {
			out.TotalPayout = &snap.TotalPayout[i]
			out.Player = snap.TotalPayout[i].Player
		}
	}
	if out.TotalPayout == nil {
		return toolError(fmt.Errorf("unknown player %q", args.Player)), nil, nil
	}
	for i := range snap.AverageOdds {
		if match(snap.AverageOdds[i].Player) {
			out.AverageOdds = &snap.AverageOdds[i]
		}
	}
	for i := range snap.WinRate {
		if match(snap.WinRate[i].Player) {
			out.WinRate = &snap.WinRate[i]
		}
	}
	for _, list := range [][]metrics.LuckRatio{snap.Luck.Ratios, snap.Luck.Undefined} {
		for i := range list {
			if match(list[i].Player) {
				out.Luck = &list[i]
			}
		}
	}
	return toolJSON(out)
}

func (s *Server) listPersonas(_ context.Context, _ *mcp.CallToolRequest, _ NoArgs) (*mcp.CallToolResult, any, error) {
	return toolJSON(map[string]any{"personas": s.backend.Personas()})
}

func (s *Server) askAssistant(ctx context.Context, _ *mcp.CallToolRequest, args AskArgs) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Question) == "" {
		return toolError(errors.New("question is required")), nil, nil
	}
	ans := s.backend.Ask(ctx, args.Persona, args.Question)
	if ans.Error != "" {
		return toolError(errors.New(ans.Error)), nil, nil
	}
	s.logger.Debug("assistant answered over mcp", zap.String("persona", ans.Persona))
	return toolJSON(ans)
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(err), nil, nil
	}
	return toolJSONBytes(b), nil, nil
}

func toolJSONBytes(b []byte) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("error: %v", err)},
		},
	}
}
