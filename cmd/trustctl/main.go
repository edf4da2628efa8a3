package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentinelmesh/trustplane/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	token     string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trustctl",
	Short: "Trust plane CLI",
	Long: `trustctl is the command-line interface for the trust plane.

It queries device trust scores, risk assessments, and change history, and
performs administrative actions such as score resets and quarantine
management.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.trustctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.trustctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "trust plane server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "operator token for administrative commands")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(breakdownCmd)
	rootCmd.AddCommand(riskCmd)
	rootCmd.AddCommand(overviewCmd)
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(quarantineCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	opts := []client.Option{}
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── login ────────────────────────────────────────────────────────────────────

var (
	loginOperator string
	loginSecret   string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange the admin secret for an operator token",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := newClient().Authenticate(context.Background(), loginOperator, loginSecret)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginOperator, "operator", "", "Operator name recorded on administrative actions")
	loginCmd.Flags().StringVar(&loginSecret, "secret", "", "Admin secret")
	loginCmd.MarkFlagRequired("operator") //nolint:errcheck
	loginCmd.MarkFlagRequired("secret")   //nolint:errcheck
}

// ── devices ──────────────────────────────────────────────────────────────────

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List all known devices and their trust state",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := newClient().ListDevices(context.Background())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tSCORE\tTRUSTED\tQUARANTINED")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%.1f\t%t\t%t\n", d.DeviceID, d.TrustScore, d.Trusted, d.Quarantined)
		}
		return w.Flush()
	},
}

// ── trust ────────────────────────────────────────────────────────────────────

var trustCmd = &cobra.Command{
	Use:   "trust <device-id>",
	Short: "Show a device's trust record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newClient().GetTrust(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Device:      %s\n", d.DeviceID)
		fmt.Printf("Score:       %.1f\n", d.TrustScore)
		fmt.Printf("Trusted:     %t\n", d.Trusted)
		fmt.Printf("Quarantined: %t\n", d.Quarantined)
		if d.QuarantineReason != "" {
			fmt.Printf("Reason:      %s\n", d.QuarantineReason)
		}
		return nil
	},
}

var breakdownCmd = &cobra.Command{
	Use:   "breakdown <device-id>",
	Short: "Show a device's trust score breakdown and the factor weights",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newClient().GetBreakdown(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(b)
	},
}

// ── risk ─────────────────────────────────────────────────────────────────────

var riskCmd = &cobra.Command{
	Use:   "risk <device-id>",
	Short: "Show a device's risk assessment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newClient().GetRisk(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Device:       %s\n", a.DeviceID)
		fmt.Printf("Score:        %.1f\n", a.CurrentTrustScore)
		fmt.Printf("Risk:         %s\n", a.RiskLevel)
		fmt.Printf("Trend:        %s\n", a.RiskTrend)
		fmt.Printf("Predicted:    %.1f (%s, confidence %.2f)\n",
			a.PredictedTrustScore, a.PredictedRisk, a.ConfidenceLevel)
		if len(a.ActiveThreats) > 0 {
			fmt.Println("Threats:")
			for _, th := range a.ActiveThreats {
				fmt.Printf("  - %s\n", th)
			}
		}
		if len(a.Recommendations) > 0 {
			fmt.Println("Recommendations:")
			for _, r := range a.Recommendations {
				fmt.Printf("  - %s\n", r)
			}
		}
		return nil
	},
}

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Show the fleet-wide risk overview",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newClient().RiskOverview(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Devices:      %d\n", o.TotalDevices)
		fmt.Printf("Fleet health: %.1f\n", o.SystemHealthScore)
		fmt.Println("Distribution:")
		for _, level := range []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"} {
			if n, ok := o.RiskDistribution[level]; ok {
				fmt.Printf("  %-8s %d\n", level, n)
			}
		}
		for _, id := range o.HighRiskDevices {
			fmt.Printf("High risk:    %s\n", id)
		}
		return nil
	},
}

// ── changes ──────────────────────────────────────────────────────────────────

var changesDays int

var changesCmd = &cobra.Command{
	Use:   "changes <device-id>",
	Short: "Show a device's trust change timeline, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tl, err := newClient().ListChanges(context.Background(), args[0], changesDays)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tCHANGE\tSCORE\tSEVERITY\tREASON")
		for _, c := range tl.Changes {
			fmt.Fprintf(w, "%s\t%+.1f\t%.1f\t%s\t%s\n",
				c.Timestamp.Format("2006-01-02 15:04:05"),
				c.ScoreChange, c.NewScore, c.Severity, c.ChangeReason)
		}
		return w.Flush()
	},
}

var analyzeHours int

var analyzeCmd = &cobra.Command{
	Use:   "analyze <device-id>",
	Short: "Analyze a device's change history over a trailing window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newClient().AnalyzeChanges(context.Background(), args[0], analyzeHours)
		if err != nil {
			return err
		}

		fmt.Printf("Device:     %s\n", a.DeviceID)
		fmt.Printf("Window:     %dh\n", a.WindowHours)
		fmt.Printf("Changes:    %d (%d up, %d down, net %+.1f)\n",
			a.TotalChanges, a.ImprovingCount, a.DegradingCount, a.NetScoreChange)
		fmt.Printf("Trend:      %s\n", a.Trend)
		fmt.Printf("Risk:       %s\n", a.RiskLevel)
		fmt.Printf("Summary:    %s\n", a.Summary)
		for _, p := range a.Patterns {
			fmt.Printf("Pattern:    %s\n", p.Description)
		}
		return nil
	},
}

func init() {
	changesCmd.Flags().IntVar(&changesDays, "days", 7, "Trailing window in days")
	analyzeCmd.Flags().IntVar(&analyzeHours, "hours", 24, "Trailing window in hours")
}

// ── simulate ─────────────────────────────────────────────────────────────────

var (
	simScore      float64
	simIdentity   bool
	simContext    bool
	simFirmware   bool
	simAnomaly    bool
	simCompliance bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate a score adjustment without touching any device",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newClient().Simulate(context.Background(), simScore, client.Factors{
			IdentityPassed:   !simIdentity,
			ContextPassed:    !simContext,
			FirmwareValid:    !simFirmware,
			AnomalyDetected:  simAnomaly,
			CompliancePassed: !simCompliance,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%.1f %+.1f -> %.1f (trusted: %t)\n",
			result.OldScore, result.ScoreChange, result.NewScore, result.Trusted)
		return nil
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simScore, "score", 50, "Current trust score")
	simulateCmd.Flags().BoolVar(&simIdentity, "fail-identity", false, "Fail the identity check")
	simulateCmd.Flags().BoolVar(&simContext, "fail-context", false, "Fail the context stability check")
	simulateCmd.Flags().BoolVar(&simFirmware, "fail-firmware", false, "Fail the firmware validity check")
	simulateCmd.Flags().BoolVar(&simAnomaly, "anomaly", false, "Flag a behavioral anomaly")
	simulateCmd.Flags().BoolVar(&simCompliance, "fail-compliance", false, "Fail the compliance check")
}

// ── reset ────────────────────────────────────────────────────────────────────

var (
	resetBaseline float64
	resetActor    string
)

var resetCmd = &cobra.Command{
	Use:   "reset <device-id>",
	Short: "Force-set a device's trust score (requires an operator token)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newClient().ResetTrust(context.Background(), args[0], resetBaseline, resetActor)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %.1f -> %.1f\n", result.DeviceID, result.OldScore, result.NewScore)
		return nil
	},
}

func init() {
	resetCmd.Flags().Float64Var(&resetBaseline, "baseline", 50, "Score to reset to")
	resetCmd.Flags().StringVar(&resetActor, "actor", "", "Operator name recorded in the ledger")
	resetCmd.MarkFlagRequired("actor") //nolint:errcheck
}

// ── quarantine ───────────────────────────────────────────────────────────────

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Manage device quarantine",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := newClient().ListQuarantined(context.Background())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tSCORE\tSINCE\tREASON")
		for _, d := range devices {
			since := ""
			if d.QuarantineTimestamp != nil {
				since = d.QuarantineTimestamp.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%.1f\t%s\t%s\n", d.DeviceID, d.TrustScore, since, d.QuarantineReason)
		}
		return w.Flush()
	},
}

var quarantineReason string

var quarantineAddCmd = &cobra.Command{
	Use:   "add <device-id>",
	Short: "Manually quarantine a device (requires an operator token)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newClient().QuarantineDevice(context.Background(), args[0], quarantineReason)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", e.DeviceID, e.Status)
		return nil
	},
}

var quarantineReleaseCmd = &cobra.Command{
	Use:   "release <device-id>",
	Short: "Release a quarantined device (requires an operator token)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newClient().ReleaseDevice(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", e.DeviceID, e.Status)
		return nil
	},
}

var quarantineEventLimit int

var quarantineEventsCmd = &cobra.Command{
	Use:   "events <device-id>",
	Short: "Show a device's quarantine event history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := newClient().QuarantineEvents(context.Background(), args[0], quarantineEventLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tSTATUS\tREASON\tERROR")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.Status, e.Reason, e.ErrorMessage)
		}
		return w.Flush()
	},
}

func init() {
	quarantineAddCmd.Flags().StringVar(&quarantineReason, "reason", "", "Reason recorded on the quarantine event")
	quarantineAddCmd.MarkFlagRequired("reason") //nolint:errcheck
	quarantineEventsCmd.Flags().IntVar(&quarantineEventLimit, "limit", 20, "Maximum events to show")

	quarantineCmd.AddCommand(quarantineAddCmd)
	quarantineCmd.AddCommand(quarantineReleaseCmd)
	quarantineCmd.AddCommand(quarantineEventsCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the trustctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("trustctl " + version)
	},
}
