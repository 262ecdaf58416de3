package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/tweetbot/internal/composer"
	"github.com/kalambet/tweetbot/internal/config"
	"github.com/kalambet/tweetbot/internal/history"
	"github.com/kalambet/tweetbot/internal/parser"
	"github.com/kalambet/tweetbot/internal/persona"
	"github.com/kalambet/tweetbot/internal/pipeline"
	"github.com/kalambet/tweetbot/internal/proxy"
	"github.com/kalambet/tweetbot/internal/retry"
	"github.com/kalambet/tweetbot/internal/usage"
)

// interruptible returns a context canceled on SIGINT so a running stream is
// abandoned cleanly.
func interruptible(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// --- suggest ---

var suggestCmd = &cobra.Command{
	Use:   "suggest [post text]",
	Short: "Draft suggestions for a reply, quote post or new post",
	Long: `Draft up to three suggestions for a reply, quote post or new post.

Examples:
  tweetbot suggest "Databases are overrated" --handle @dan
  tweetbot suggest "Shipping beats polish" --action quote --persona contrarian
  tweetbot suggest --action new --topic "sqlite in production" --multi-voice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags(cmd, args)
		if err != nil {
			return err
		}
		return runGenerate(cmd, req)
	},
}

var threadCmd = &cobra.Command{
	Use:   "thread <topic>",
	Short: "Draft a numbered thread on a topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := pipeline.Request{
			Action:     composer.ActionNew,
			Topic:      strings.Join(args, " "),
			ThreadMode: true,
		}
		if err := applyCommonFlags(cmd, &req); err != nil {
			return err
		}
		return runGenerate(cmd, req)
	},
}

func init() {
	addSuggestFlags(suggestCmd)
	addGenerateFlags(threadCmd)
}

func addSuggestFlags(c *cobra.Command) {
	c.Flags().String("action", "reply", "reply, quote or new")
	c.Flags().String("author", "", "display name of the post's author")
	c.Flags().String("handle", "", "handle of the post's author")
	c.Flags().String("topic", "", "topic of a new post")
	c.Flags().StringSlice("image", nil, "image URL attached to the post (repeatable)")
	c.Flags().Bool("multi-voice", false, "one suggestion per persona")
	c.Flags().Bool("thread", false, "write a thread instead of suggestions")
	addGenerateFlags(c)
}

func addGenerateFlags(c *cobra.Command) {
	c.Flags().String("persona", "", "persona override: "+personaList())
	c.Flags().String("context", "", "answers to clarifying questions")
	c.Flags().String("refine", "", "free-form direction for a regeneration")
	c.Flags().String("tone", "", "quick tone adjustment, e.g. shorter or spicier")
	c.Flags().Bool("no-stream", false, "wait for the full result instead of streaming")
	c.Flags().Bool("json", false, "print the result as JSON")
}

func personaList() string {
	ids := persona.IDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return strings.Join(names, ", ")
}

func requestFromFlags(cmd *cobra.Command, args []string) (pipeline.Request, error) {
	actionStr, _ := cmd.Flags().GetString("action")
	action, err := composer.ParseAction(actionStr)
	if err != nil {
		return pipeline.Request{}, err
	}

	req := pipeline.Request{Action: action}
	req.Topic, _ = cmd.Flags().GetString("topic")
	req.ThreadMode, _ = cmd.Flags().GetBool("thread")
	req.MultiVoice, _ = cmd.Flags().GetBool("multi-voice")

	text := strings.Join(args, " ")
	if action == composer.ActionNew {
		if req.Topic == "" {
			req.Topic = text
		}
		if req.Topic == "" {
			return pipeline.Request{}, fmt.Errorf("a topic is required for new posts (--topic or argument)")
		}
	} else {
		if text == "" {
			return pipeline.Request{}, fmt.Errorf("post text is required for a %s", action)
		}
		author, _ := cmd.Flags().GetString("author")
		handle, _ := cmd.Flags().GetString("handle")
		imgs, _ := cmd.Flags().GetStringSlice("image")
		req.Subject = &composer.Subject{Text: text, Author: author, Handle: handle, ImageURLs: imgs}
	}

	if err := applyCommonFlags(cmd, &req); err != nil {
		return pipeline.Request{}, err
	}
	return req, nil
}

func applyCommonFlags(cmd *cobra.Command, req *pipeline.Request) error {
	if p, _ := cmd.Flags().GetString("persona"); p != "" {
		parsed, err := persona.Parse(p)
		if err != nil {
			return err
		}
		req.Persona = parsed
	}
	req.ClarifyingContext, _ = cmd.Flags().GetString("context")
	req.Refinement, _ = cmd.Flags().GetString("refine")
	req.RefineTone, _ = cmd.Flags().GetString("tone")
	return nil
}

func runGenerate(cmd *cobra.Command, req pipeline.Request) error {
	noStream, _ := cmd.Flags().GetBool("no-stream")
	asJSON, _ := cmd.Flags().GetBool("json")

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := interruptible(cmd.Context())
	defer cancel()

	var res pipeline.Result
	if noStream || asJSON {
		resp, err := client.post(ctx, "/v1/generate", req)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
	} else {
		res, err = streamGenerate(ctx, client, req)
		if err != nil {
			return err
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(res)
	return nil
}

// streamGenerate shows the accumulating draft on stderr and returns the
// final result.
func streamGenerate(ctx context.Context, client *apiClient, req pipeline.Request) (pipeline.Result, error) {
	var (
		res  pipeline.Result
		done bool
		live = newLiveLine(os.Stderr)
	)
	err := client.stream(ctx, "/v1/generate/stream", req, func(ev streamEvent) error {
		switch ev.Name {
		case "chunk":
			var c struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(ev.Data, &c); err != nil {
				return err
			}
			live.show(c.Text)
		case "retry":
			var w retry.Wait
			if err := json.Unmarshal(ev.Data, &w); err != nil {
				return err
			}
			live.show(colorize(colorYellow, fmt.Sprintf("rate limited, retrying in %ds (attempt %d of %d)", w.Remaining, w.Attempt, retry.MaxAttempts)))
		case "done":
			done = true
			return json.Unmarshal(ev.Data, &res)
		case "error":
			return streamError(ev.Data)
		}
		return nil
	})
	live.clear()
	if err != nil {
		return pipeline.Result{}, err
	}
	if !done {
		return pipeline.Result{}, fmt.Errorf("stream ended without a result")
	}
	return res, nil
}

func streamError(data json.RawMessage) error {
	var e struct {
		Message           string `json:"message"`
		RateLimited       bool   `json:"rateLimited"`
		RetryAfterSeconds int    `json:"retryAfterSeconds"`
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("stream failed: %s", string(data))
	}
	if e.RateLimited {
		return fmt.Errorf("%s (try again in %ds)", e.Message, e.RetryAfterSeconds)
	}
	return fmt.Errorf("%s", e.Message)
}

func printResult(res pipeline.Result) {
	if res.IsThread {
		printThread(res.Thread)
	} else {
		printSuggestions(res.Suggestions)
	}
	if res.HistoryID != "" {
		fmt.Fprintf(os.Stderr, "\n%s tweetbot select %s <n>\n", colorize(colorBold, "Record your pick:"), res.HistoryID)
	}
}

func printSuggestions(items []parser.Suggestion) {
	if len(items) == 0 {
		printWarning("no suggestions parsed from the response")
		return
	}
	for i, s := range items {
		label := colorize(colorBold, fmt.Sprintf("%d.", i+1))
		var badges []string
		if s.Persona != "" {
			name, color := string(s.Persona), ""
			if info, ok := persona.Lookup(s.Persona); ok {
				name, color = info.Name, personaColors[info.Color]
			}
			if color != "" {
				name = colorize(color, name)
			}
			badges = append(badges, name)
		}
		if s.Tag != "" {
			badges = append(badges, colorize(colorCyan, "["+s.Tag+"]"))
		}
		if len(badges) > 0 {
			fmt.Printf("%s %s\n   %s\n\n", label, strings.Join(badges, " "), s.Text)
		} else {
			fmt.Printf("%s %s\n\n", label, s.Text)
		}
	}
}

func printThread(entries []parser.ThreadEntry) {
	for _, e := range entries {
		pos := colorize(colorBold, fmt.Sprintf("%d/%d", e.Position, e.Total))
		if e.Tag != "" {
			fmt.Printf("%s %s %s\n\n", pos, colorize(colorCyan, "["+e.Tag+"]"), e.Text)
			continue
		}
		fmt.Printf("%s %s\n\n", pos, e.Text)
	}
}

// --- clarify ---

var clarifyCmd = &cobra.Command{
	Use:   "clarify <topic>",
	Short: "Ask three clarifying questions before writing a new post",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		thread, _ := cmd.Flags().GetBool("thread")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := interruptible(cmd.Context())
		defer cancel()

		var out pipeline.Clarification
		live := newLiveLine(os.Stderr)
		err = client.stream(ctx, "/v1/clarify/stream", map[string]any{
			"topic":      strings.Join(args, " "),
			"threadMode": thread,
		}, func(ev streamEvent) error {
			switch ev.Name {
			case "chunk":
				var c struct {
					Text string `json:"text"`
				}
				json.Unmarshal(ev.Data, &c)
				live.show(c.Text)
			case "done":
				return json.Unmarshal(ev.Data, &out)
			case "error":
				return streamError(ev.Data)
			}
			return nil
		})
		live.clear()
		if err != nil {
			return err
		}
		for i, q := range out.Questions {
			fmt.Printf("%s %s\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), q)
		}
		fmt.Fprintf(os.Stderr, "\n%s tweetbot suggest --action new --topic %q --context \"...\"\n", colorize(colorBold, "Then:"), strings.Join(args, " "))
		return nil
	},
}

func init() {
	clarifyCmd.Flags().Bool("thread", false, "the post will be a thread")
}

// --- select ---

var selectCmd = &cobra.Command{
	Use:   "select <history-id> <n> [final text]",
	Short: "Record which suggestion you posted",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("suggestion number must be a positive integer, got %q", args[1])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/history/"+args[0]+"/selection", map[string]any{
			"index": n - 1,
			"text":  strings.Join(args[2:], " "),
		})
		if err != nil {
			return err
		}
		var result map[string]bool
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if !result["recorded"] {
			printWarning("nothing recorded: unknown id, out-of-range number, or already selected")
			return nil
		}
		printSuccess("Recorded suggestion %d", n)
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear generation history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/history")
		if err != nil {
			return err
		}
		var entries []history.Entry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No history yet.")
			return nil
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
		for i := len(entries) - 1; i >= 0; i-- {
			fmt.Println(historyLine(entries[i]))
		}
		return nil
	},
}

func historyLine(e history.Entry) string {
	subject := e.Topic
	if e.Original != nil {
		subject = e.Original.Text
	}
	subject = strings.ReplaceAll(subject, "\n", " ")
	if r := []rune(subject); len(r) > 60 {
		subject = string(r[:60]) + "..."
	}
	mark := " "
	if e.Selected() {
		mark = colorize(colorGreen, "✓")
	}
	id := e.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s %s  %s  %-6s %s",
		mark,
		colorize(colorCyan, id),
		e.Timestamp.Local().Format("2006-01-02 15:04"),
		e.Action,
		subject,
	)
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all history (stats are kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes all history and the voice samples drawn from it. Use --confirm to proceed.")
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/history")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("History cleared")
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of entries to list")
	historyClearCmd.Flags().Bool("confirm", false, "confirm clearing history")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// --- usage / stats ---

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage and estimated cost",
	RunE: func(cmd *cobra.Command, args []string) error {
		reset, _ := cmd.Flags().GetBool("reset")
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/usage")
		if err != nil {
			return err
		}
		var snap usage.Snapshot
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}
		printUsage(snap)

		if reset {
			resp, err := client.delete(cmd.Context(), "/v1/usage")
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, nil); err != nil {
				return err
			}
			printSuccess("Usage reset")
		}
		return nil
	},
}

func printUsage(s usage.Snapshot) {
	printStatus("Model", "%s", s.Model)
	printStatus("Input tokens", "%d", s.TotalInputTokens)
	printStatus("Output tokens", "%d", s.TotalOutputTokens)
	printStatus("Estimated cost", "$%.4f", s.EstimatedCost)
	if s.LastUpdated != nil {
		printStatus("Last updated", "%s", s.LastUpdated.Local().Format("2006-01-02 15:04"))
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many generations were made and picked",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/stats")
		if err != nil {
			return err
		}
		var s history.Stats
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		printStatus("Generated", "%d", s.TotalGenerated)
		printStatus("Selected", "%d (%s)", s.TotalSelected, selectionRate(s))
		return nil
	},
}

func init() {
	usageCmd.Flags().Bool("reset", false, "zero the totals after showing them")
}

// --- personas / models ---

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List personas",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, p := range persona.All() {
			name := p.Name
			if c := personaColors[p.Color]; c != "" {
				name = colorize(c, name)
			}
			fmt.Printf("%-12s %s  %s\n", p.ID, name, p.Tagline)
		}
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available from the provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/models")
		if err != nil {
			return err
		}
		var list proxy.ModelList
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		priced := make(map[string]bool)
		for _, m := range usage.KnownModels() {
			priced[m] = true
		}
		for _, m := range list.Data {
			if priced[m.ID] {
				fmt.Printf("%s %s\n", m.ID, colorize(colorGreen, "(priced)"))
				continue
			}
			fmt.Println(m.ID)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		if cfg.Provider.APIKey == "" {
			printWarning("no API key: %s", config.MissingAPIKeyHint())
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s (restart the server to apply)", key, value)
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the OpenRouter API key (read from stdin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(os.Stderr, "OpenRouter API key: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading key: %w", err)
		}
		if err := config.SetAPIKey(config.NewKeychain(), line); err != nil {
			return err
		}
		printSuccess("API key stored (%s)", config.Redact(strings.TrimSpace(line)))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetKeyCmd)
}
