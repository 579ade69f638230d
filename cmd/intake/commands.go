package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/intake/internal/api"
	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/config"
	"github.com/kalambet/intake/internal/interview"
	"github.com/kalambet/intake/internal/redflag"
	"github.com/kalambet/intake/internal/storage"
)

// --- assess ---

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Run an interactive assessment in the terminal",
	Long: `Run an interactive assessment against the local server.

Choice questions are answered with option numbers (comma-separated for
multiple choice). Anything else typed at a choice prompt is sent as free text.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		language, _ := cmd.Flags().GetString("language")
		country, _ := cmd.Flags().GetString("country")
		forceNew, _ := cmd.Flags().GetBool("new")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runAssess(cmd.Context(), client, os.Stdin, os.Stdout, api.StartRequest{
			Language:    language,
			CountryCode: country,
			ForceNew:    forceNew,
		})
	},
}

func init() {
	assessCmd.Flags().String("language", "", "response language (zh or en)")
	assessCmd.Flags().String("country", "", "ISO country code for emergency numbers")
	assessCmd.Flags().Bool("new", false, "abandon the active assessment and start over")
}

func runAssess(ctx context.Context, c *apiClient, in io.Reader, out io.Writer, start api.StartRequest) error {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := c.post(ctx, "/v1/assessment/start", start)
	if err != nil {
		return err
	}
	var step interview.Step
	if err := decodeJSON(resp, &step); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for {
		switch step.Type {
		case interview.StepEmergency:
			printEmergency(out, step.Emergency)
			return nil
		case interview.StepReport:
			printReport(out, step.Report)
			return nil
		}
		if step.Question == nil {
			return fmt.Errorf("server returned a %s step without a question", step.Type)
		}

		q := *step.Question
		printQuestion(out, q)
		var value json.RawMessage
		for value == nil {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return err
				}
				return errors.New("input closed before the assessment finished")
			}
			value, err = parseAnswer(q, scanner.Text())
			if err != nil {
				fmt.Fprintln(out, colorize(colorYellow, err.Error()))
			}
		}

		resp, err := c.post(ctx, "/v1/assessment/next", api.NextRequest{
			SessionID: step.SessionID,
			Answer:    &api.AnswerRequest{QuestionID: q.ID, Value: value, InputMethod: string(assessment.InputType)},
			Language:  start.Language,
		})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &step); err != nil {
			return err
		}
	}
}

// parseAnswer turns a typed line into the JSON answer for q.
func parseAnswer(q assessment.Question, line string) (json.RawMessage, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errors.New("please enter an answer")
	}

	var v any
	switch q.Type {
	case assessment.TypeSingleChoice:
		if n, err := strconv.Atoi(line); err == nil {
			if n < 1 || n > len(q.Options) {
				return nil, fmt.Errorf("choose 1-%d", len(q.Options))
			}
			v = q.Options[n-1].Value
		} else {
			v = assessment.CustomPrefix + line
		}
	case assessment.TypeMultipleChoice:
		var picked []string
		for _, part := range strings.Split(line, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return json.Marshal([]string{assessment.CustomPrefix + line})
			}
			if n < 1 || n > len(q.Options) {
				return nil, fmt.Errorf("choose 1-%d", len(q.Options))
			}
			picked = append(picked, q.Options[n-1].Value)
		}
		v = picked
	case assessment.TypeBoolean:
		switch strings.ToLower(line) {
		case "y", "yes", "true", "是":
			v = true
		case "n", "no", "false", "否":
			v = false
		default:
			return nil, errors.New("answer y or n")
		}
	case assessment.TypeScale:
		n, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, errors.New("enter a number")
		}
		if q.Min != nil && n < float64(*q.Min) || q.Max != nil && n > float64(*q.Max) {
			return nil, fmt.Errorf("enter a number from %d to %d", deref(q.Min), deref(q.Max))
		}
		v = n
	default:
		v = line
	}
	return json.Marshal(v)
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func printQuestion(w io.Writer, q assessment.Question) {
	fmt.Fprintf(w, "\n%s %s\n", colorize(colorCyan, fmt.Sprintf("[%d%%]", q.Progress)), colorize(colorBold, q.Text))
	if q.Description != "" {
		fmt.Fprintf(w, "  %s\n", q.Description)
	}
	for i, o := range q.Options {
		fmt.Fprintf(w, "  %d) %s\n", i+1, o.Label)
	}
	switch q.Type {
	case assessment.TypeBoolean:
		fmt.Fprintln(w, "  (y/n)")
	case assessment.TypeScale:
		fmt.Fprintf(w, "  (%d-%d)\n", deref(q.Min), deref(q.Max))
	}
}

func printReport(w io.Writer, r *assessment.Report) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "\n%s urgency: %s\n", colorize(colorBold, "Assessment report"), r.Urgency)
	for _, c := range r.Conditions {
		label := fmt.Sprintf("%s (%.0f%%)", c.Name, c.Probability)
		if c.IsBestMatch {
			label = colorize(colorGreen, label+" best match")
		}
		fmt.Fprintf(w, "  - %s\n", label)
		if c.Description != "" {
			fmt.Fprintf(w, "    %s\n", c.Description)
		}
	}
	for _, s := range r.NextSteps {
		fmt.Fprintf(w, "  %s %s\n", s.Icon, s.Action)
	}
	fmt.Fprintf(w, "\n%s\n", r.Disclaimer)
}

func printEmergency(w io.Writer, e *redflag.Emergency) {
	if e == nil {
		return
	}
	fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorRed, e.Title), e.Message)
	for _, in := range e.Instructions {
		fmt.Fprintf(w, "  ! %s\n", in)
	}
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for --user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("INTAKE_JWT_SECRET is not set")
		}
		tok, err := api.IssueToken(cfg.Auth.JWTSecret, asUser, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Search past assessments",
}

var memoryRecallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Find past assessments similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return recallMemories(cmd.Context(), client, cmd.OutOrStdout(), strings.Join(args, " "), limit)
	},
}

func init() {
	memoryRecallCmd.Flags().Int("limit", 5, "maximum number of results")
	memoryCmd.AddCommand(memoryRecallCmd)
}

func recallMemories(ctx context.Context, c *apiClient, w io.Writer, query string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	path := fmt.Sprintf("/v1/memories?q=%s&limit=%d", url.QueryEscape(query), limit)
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}

	var results []storage.ScoredMemory
	if err := decodeJSON(resp, &results); err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(w, "\n%s [score: %.3f] %s\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Score, r.CreatedAt.Format(time.DateOnly))
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(r.Summary, "\n", "\n  "))
	}
	return nil
}

// --- db ---

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		local, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer local.Close()
		versions, err := local.AppliedMigrations()
		if err != nil {
			return err
		}
		printSuccess("SQLite schema at version %d", versions[len(versions)-1])

		if cfg.Storage.Driver != "postgres" {
			return nil
		}
		pg, err := storage.OpenPostgres(cmd.Context(), cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(cmd.Context()); err != nil {
			return err
		}
		printSuccess("Postgres schema up to date")
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
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
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable configuration keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ValidKeys() {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
}
