package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tweetbot/internal/composer"
	"github.com/kalambet/tweetbot/internal/persona"
	"github.com/kalambet/tweetbot/internal/pipeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Generator *pipeline.Generator
	Version   string
}

// NewMCPServer creates an MCP server exposing generation, selection and
// usage as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"tweetbot",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tweetbot drafts replies, quote posts and new posts in the user's voice."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("generate_suggestions",
			mcp.WithDescription("Draft up to three post suggestions, or a thread, for a reply, quote or new post."),
			mcp.WithString("action", mcp.Description("reply, quote or new (default reply)"), mcp.Enum("reply", "quote", "new")),
			mcp.WithString("text", mcp.Description("Text of the post being replied to or quoted")),
			mcp.WithString("author", mcp.Description("Display name of the post's author")),
			mcp.WithString("handle", mcp.Description("Handle of the post's author")),
			mcp.WithString("topic", mcp.Description("Topic of a new post")),
			mcp.WithString("persona", mcp.Description("Persona override: builder, shitposter or contrarian")),
			mcp.WithString("refinement", mcp.Description("Free-form direction for a regeneration")),
			mcp.WithString("refine_tone", mcp.Description("Quick tone adjustment, e.g. shorter or spicier")),
			mcp.WithBoolean("thread", mcp.Description("Write a numbered thread instead of suggestions")),
			mcp.WithBoolean("multi_voice", mcp.Description("One suggestion per persona")),
		),
		mcpGenerate(deps),
	)

	s.AddTool(
		mcp.NewTool("record_selection",
			mcp.WithDescription("Record which suggestion of a generation the user chose. Chosen posts steer future drafts."),
			mcp.WithString("history_id", mcp.Description("historyId returned by generate_suggestions"), mcp.Required()),
			mcp.WithNumber("index", mcp.Description("Zero-based index of the chosen suggestion"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Final text, if edited before posting")),
		),
		mcpRecordSelection(deps),
	)

	s.AddTool(
		mcp.NewTool("usage",
			mcp.WithDescription("Report cumulative token usage and estimated cost."),
			mcp.WithBoolean("reset", mcp.Description("Zero the totals after reporting them")),
		),
		mcpUsage(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"tweetbot://personas",
			"Personas",
			mcp.WithResourceDescription("Available personas"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePersonas(),
	)

	s.AddResource(
		mcp.NewResource(
			"tweetbot://history/recent",
			"Recent Generations",
			mcp.WithResourceDescription("Last 10 generations (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpGenerate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		action, err := composer.ParseAction(req.GetString("action", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		genReq := pipeline.Request{
			Action:     action,
			Topic:      req.GetString("topic", ""),
			ThreadMode: req.GetBool("thread", false),
			MultiVoice: req.GetBool("multi_voice", false),
			Refinement: req.GetString("refinement", ""),
			RefineTone: req.GetString("refine_tone", ""),
		}
		if p := req.GetString("persona", ""); p != "" {
			parsed, err := persona.Parse(p)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			genReq.Persona = parsed
		}
		if text := req.GetString("text", ""); text != "" {
			genReq.Subject = &composer.Subject{
				Text:   text,
				Author: req.GetString("author", ""),
				Handle: req.GetString("handle", ""),
			}
		}

		res, err := deps.Generator.Generate(ctx, genReq)
		if err != nil {
			_, body := classify(err)
			if body.RateLimited {
				return mcpError(fmt.Sprintf("rate limited, retry in %ds: %s", body.RetryAfterSeconds, body.Message)), nil
			}
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecordSelection(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("history_id")
		if err != nil {
			return mcpError("history_id is required"), nil
		}
		index, err := req.RequireInt("index")
		if err != nil {
			return mcpError("index is required"), nil
		}

		ok, err := deps.Generator.RecordSelection(ctx, id, index, req.GetString("text", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record selection: %v", err)), nil
		}
		if !ok {
			return mcpError(fmt.Sprintf("nothing recorded for %s index %d", id, index)), nil
		}
		return mcpText(fmt.Sprintf("Recorded selection %d of %s", index, id)), nil
	}
}

func mcpUsage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap, err := deps.Generator.UsageSnapshot(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read usage: %v", err)), nil
		}
		if req.GetBool("reset", false) {
			if err := deps.Generator.ResetUsage(ctx); err != nil {
				return mcpError(fmt.Sprintf("failed to reset usage: %v", err)), nil
			}
		}

		b, err := json.Marshal(snap)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal usage: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourcePersonas() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(persona.All())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal personas: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

const recentLimit = 10

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Generator.History(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get history: %w", err)
		}
		if len(entries) > recentLimit {
			entries = entries[len(entries)-recentLimit:]
		}

		type entrySummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Action    string `json:"action"`
			Subject   string `json:"subject,omitempty"`
			Selected  string `json:"selected,omitempty"`
		}

		summaries := make([]entrySummary, len(entries))
		for i, e := range entries {
			s := entrySummary{
				ID:        e.ID,
				CreatedAt: e.Timestamp.UTC().Format(time.RFC3339),
				Action:    e.Action,
			}
			switch {
			case e.Original != nil:
				s.Subject = truncate(e.Original.Text, 200)
			case e.Topic != "":
				s.Subject = truncate(e.Topic, 200)
			}
			if e.Selection != nil {
				s.Selected = truncate(e.Selection.Text, 200)
			}
			summaries[i] = s
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
