package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskyield/taskyield/internal/app/commission"
)

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().Bool("dry-run", false, "Evaluate without crediting anything")
	evaluateCmd.Flags().String("email", "", "Evaluate a single user")
	evaluateCmd.Flags().String("at", "", "Evaluation time in RFC 3339 (default now)")
	evaluateCmd.Flags().Bool("json", false, "Print the report as JSON")
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one commission and reward evaluation pass",
	Long: `Evaluate every user (or one, with --email), credit the commissions and
rewards they are eligible for and advance their checkpoints. With --dry-run
nothing is written.`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	email, _ := cmd.Flags().GetString("email")
	email = strings.ToLower(strings.TrimSpace(email))
	at, _ := cmd.Flags().GetString("at")
	asJSON, _ := cmd.Flags().GetBool("json")

	now := time.Now().UTC()
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		now = t.UTC()
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commission.WithTrigger(cmd.Context(), "cli")
	var report commission.Report
	switch {
	case email != "":
		report, err = a.engine.EvaluateUser(ctx, email, now, dryRun)
	case dryRun:
		report, err = a.engine.DryRun(ctx, now)
	default:
		report, err = a.engine.Evaluate(ctx, now)
	}
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(os.Stdout, report)
	}

	mode := "applied"
	if report.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(os.Stdout, "Evaluated %d users (%s): %d credits totalling %s, %d conflicts\n",
		report.Users, mode, len(report.Credits), report.Total.StringFixed(2), report.Conflicts)

	if len(report.Credits) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EMAIL\tCATEGORY\tAMOUNT\tDESCRIPTION")
		for _, c := range report.Credits {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Email, c.Category, c.Amount.String(), c.Description)
		}
		w.Flush()
	}
	for email, msg := range report.Failures {
		fmt.Fprintf(os.Stderr, "failed: %s: %s\n", email, msg)
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d users failed", len(report.Failures))
	}
	return nil
}
