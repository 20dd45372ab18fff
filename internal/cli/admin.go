package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/taskyield/taskyield/internal/api"
	"github.com/taskyield/taskyield/internal/domain"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(levelsCmd)

	usersCmd.AddCommand(usersAddCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesImportCmd)
	levelsCmd.AddCommand(levelsListCmd)

	usersAddCmd.Flags().String("ref", "", "Referral code of the upline")
	rulesImportCmd.Flags().StringP("file", "f", "", "Path to a TOML rule set")
	rulesImportCmd.MarkFlagRequired("file")
}

// ─── migrate ────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and print the schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.db.Version()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Database: %s\nSchema version: %d\n", a.db.Path(), v)
		return nil
	},
}

// ─── config ─────────────────────────────────────────────────────────────────

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		return cfg.Write(os.Stdout)
	},
}

// ─── users ──────────────────────────────────────────────────────────────────

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var usersAddCmd = &cobra.Command{
	Use:   "add EMAIL",
	Short: "Register a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, _ := cmd.Flags().GetString("ref")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.accounts.Register(cmd.Context(), args[0], ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Registered %s (referral code %s)\n", u.Email, u.ReferralCode)
		return nil
	},
}

// ─── rules ──────────────────────────────────────────────────────────────────

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and import reward rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured reward rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rs, err := a.db.ListRules(cmd.Context())
		if err != nil {
			return err
		}
		if rs.Count() == 0 {
			fmt.Println("No rules configured.")
			fmt.Println("Import some with: taskyield rules import -f rules.toml")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tID\tNAME\tENABLED\tREWARD")
		for _, r := range rs.TeamRewards {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", domain.KindTeamReward, r.ID, r.Name, r.Enabled, r.RewardAmount)
		}
		for _, r := range rs.TeamSizeRewards {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", domain.KindTeamSizeReward, r.ID, r.Name, r.Enabled, r.RewardAmount)
		}
		for _, r := range rs.Salaries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", domain.KindSalary, r.ID, r.Name, r.Enabled, r.Amount)
		}
		for _, r := range rs.Community {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s%%\n", domain.KindCommunity, r.ID, r.Name, r.Enabled, r.CommissionRate)
		}
		return w.Flush()
	},
}

var rulesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace all reward rules from a TOML file",
	Long: `Replace the full rule set with the contents of a TOML file holding
[[team_rewards]], [[team_size_rewards]], [[salaries]] and [[community]] tables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")

		var rs domain.RuleSet
		if _, err := toml.DecodeFile(path, &rs); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := api.CheckRules(rs); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.db.ReplaceRules(cmd.Context(), rs); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Imported %d rules from %s\n", rs.Count(), path)
		return nil
	},
}

// ─── levels ─────────────────────────────────────────────────────────────────

var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Inspect the tier table",
}

var levelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tiers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		levels, err := a.db.ListLevels(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LEVEL\tMIN AMOUNT\tREFERRALS\tDAILY RATE\tTASKS\tWITHDRAWALS\tFEE")
		for _, l := range levels {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s%%\t%d\t%d\t%s%%\n",
				l.Number, l.MinAmount, l.Referrals, l.DailyRate, l.TaskQuota, l.MonthlyWithdrawals, l.WithdrawalFee)
		}
		return w.Flush()
	},
}
