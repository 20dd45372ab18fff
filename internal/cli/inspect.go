package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/taskyield/taskyield/internal/app/downline"
	"github.com/taskyield/taskyield/internal/app/tier"
	"github.com/taskyield/taskyield/internal/domain"
)

func init() {
	rootCmd.AddCommand(tierCmd)
	rootCmd.AddCommand(downlineCmd)

	tierCmd.Flags().Bool("json", false, "Print as JSON")
	downlineCmd.Flags().Bool("json", false, "Print as JSON")
}

// ─── tier ───────────────────────────────────────────────────────────────────

var tierCmd = &cobra.Command{
	Use:   "tier EMAIL",
	Short: "Show a user's resolved tier",
	Args:  cobra.ExactArgs(1),
	RunE:  runTier,
}

type tierInfo struct {
	Email     string       `json:"email"`
	Tier      int          `json:"tier"`
	Committed string       `json:"committed"`
	Direct    int          `json:"direct_referrals"`
	Purchased int          `json:"purchased_referrals"`
	Override  *int         `json:"override_level,omitempty"`
	Level     domain.Level `json:"level"`
}

func runTier(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	email := strings.ToLower(strings.TrimSpace(args[0]))

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	snap, levels, err := a.snapshot(cmd.Context())
	if err != nil {
		return err
	}
	u, ok := snap.User(email)
	if !ok {
		return fmt.Errorf("%s: %w", email, domain.ErrUserNotFound)
	}
	n := tier.Resolve(u, snap, levels)
	lvl, err := tier.Lookup(levels, n)
	if err != nil {
		return err
	}
	info := tierInfo{
		Email:     email,
		Tier:      n,
		Committed: snap.BalancesOf(email).Committed().String(),
		Direct:    tier.DirectReferrals(u, snap),
		Purchased: snap.PurchasedReferrals(email),
		Override:  u.OverrideLevel,
		Level:     lvl,
	}
	if asJSON {
		return printJSON(os.Stdout, info)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Email:\t%s\n", info.Email)
	fmt.Fprintf(w, "Tier:\t%d\n", info.Tier)
	fmt.Fprintf(w, "Committed:\t%s\n", info.Committed)
	fmt.Fprintf(w, "Referrals:\t%d direct + %d purchased\n", info.Direct, info.Purchased)
	if info.Override != nil {
		fmt.Fprintf(w, "Override:\t%d\n", *info.Override)
	}
	fmt.Fprintf(w, "Daily rate:\t%s%%\n", lvl.DailyRate)
	fmt.Fprintf(w, "Task quota:\t%d\n", lvl.TaskQuota)
	fmt.Fprintf(w, "Withdrawals:\t%d per month\n", lvl.MonthlyWithdrawals)
	return w.Flush()
}

// ─── downline ───────────────────────────────────────────────────────────────

var downlineCmd = &cobra.Command{
	Use:   "downline EMAIL",
	Short: "Show a user's downline by layer",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownline,
}

func runDownline(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	email := strings.ToLower(strings.TrimSpace(args[0]))

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	snap, levels, err := a.snapshot(cmd.Context())
	if err != nil {
		return err
	}
	u, ok := snap.User(email)
	if !ok {
		return fmt.Errorf("%s: %w", email, domain.ErrUserNotFound)
	}
	view := downline.Describe(u, snap, levels)
	if asJSON {
		return printJSON(os.Stdout, view)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LAYER\tEMAIL\tTIER\tSTATUS")
	layers := []struct {
		name    string
		members []domain.MemberView
	}{
		{"L1", view.Level1},
		{"L2", view.Level2},
		{"L3", view.Level3},
		{"tail", view.Tail},
	}
	for _, l := range layers {
		for _, m := range l.members {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", l.name, m.Email, m.Tier, m.Status)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\n%d / %d / %d direct layers, %d beyond\n",
		len(view.Level1), len(view.Level2), len(view.Level3), len(view.Tail))
	return nil
}
