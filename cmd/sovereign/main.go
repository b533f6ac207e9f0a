package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/aic-platform/sovereign/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL      string
	cfgFile        string
	orgID          string
	apiKey         string
	operatorSecret string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sovereign",
	Short: "Sovereign compliance platform CLI",
	Long: `sovereign is the command-line interface for the Sovereign compliance
platform.

It seals audit events onto tamper-evident ledgers, reads and verifies
audit trails, and manages organizations, requirements, and incidents.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.sovereign")
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
		if orgID == "" {
			orgID = viper.GetString("org_id")
		}
		if apiKey == "" {
			apiKey = viper.GetString("api_key")
		}
		if operatorSecret == "" {
			operatorSecret = viper.GetString("operator_secret")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.sovereign/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "platform URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&orgID, "org", "", "organization ID")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "organization API key")
	rootCmd.PersistentFlags().StringVar(&operatorSecret, "operator-secret", "", "platform operator secret")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(trailCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(orgCmd)
	rootCmd.AddCommand(incidentCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{}
	switch {
	case operatorSecret != "":
		opts = append(opts, client.WithOperatorSecret(operatorSecret))
	case apiKey != "":
		if orgID == "" {
			return nil, fmt.Errorf("--org is required with --api-key")
		}
		opts = append(opts, client.WithAPIKey(orgID, apiKey))
	}
	return client.New(serverURL, opts...)
}

func requireOrg() error {
	if orgID == "" {
		return fmt.Errorf("--org is required")
	}
	return nil
}

// ── record ───────────────────────────────────────────────────────────────────

var (
	recordSystem  string
	recordDetails string
	recordFormal  bool
)

var recordCmd = &cobra.Command{
	Use:   "record <event-type>",
	Short: "Seal a business event onto the organization's audit trail",
	Long: `Record seals a business event onto the organization's hash-chained
audit trail. Details are passed as a JSON object:

  sovereign record model.deployed --system loan-model --details '{"version":"2.1"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		var details map[string]any
		if recordDetails != "" {
			if err := json.Unmarshal([]byte(recordDetails), &details); err != nil {
				return fmt.Errorf("--details must be a JSON object: %w", err)
			}
		}
		chainType := ""
		if recordFormal {
			chainType = "FORMAL"
		}

		entry, err := c.RecordEvent(context.Background(), orgID, client.EventInput{
			SystemName: recordSystem,
			EventType:  args[0],
			Details:    details,
			ChainType:  chainType,
		})
		if err != nil {
			return err
		}

		fmt.Printf("sealed entry %s\n", entry.ID)
		fmt.Printf("  sequence: %d\n", entry.SequenceNumber)
		fmt.Printf("  digest:   %s\n", entry.Digest)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordSystem, "system", "", "AI system name the event concerns")
	recordCmd.Flags().StringVar(&recordDetails, "details", "", "event details as a JSON object")
	recordCmd.Flags().BoolVar(&recordFormal, "formal", false, "seal on the FORMAL chain instead of SANDBOX")
}

// ── trail ────────────────────────────────────────────────────────────────────

var trailFormat string

var trailCmd = &cobra.Command{
	Use:   "trail",
	Short: "Print the organization's audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		entries, err := c.Trail(context.Background(), orgID)
		if err != nil {
			return err
		}

		if trailFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tCHAIN\tDIGEST\tSEALED AT")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%.16s…\t%s\n",
				e.SequenceNumber, e.ChainType, e.Digest, e.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	trailCmd.Flags().StringVar(&trailFormat, "format", "text", "Output format: text or json")
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifySystemChain bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk a chain and report its integrity",
	Long: `Verify re-reads a full chain, recomputes every digest, and reports the
first break if any. Use --system for the global platform chain:

  sovereign verify --org <uuid>
  sovereign verify --system`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		var res *client.VerifyResult
		if verifySystemChain {
			res, err = c.VerifySystemChain(ctx)
		} else {
			if err := requireOrg(); err != nil {
				return err
			}
			res, err = c.VerifyTrail(ctx, orgID)
		}
		if err != nil {
			return err
		}

		if res.Valid {
			fmt.Printf("chain OK (%d entries)\n", res.Entries)
			return nil
		}
		fmt.Printf("chain BROKEN at sequence %d: %s\n", res.BrokenAtSequence, res.Reason)
		if res.BrokenAt != "" {
			fmt.Printf("  entry: %s\n", res.BrokenAt)
		}
		os.Exit(2)
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifySystemChain, "system", false, "verify the global system chain")
}

// ── orgs ─────────────────────────────────────────────────────────────────────

var orgCmd = &cobra.Command{
	Use:   "orgs",
	Short: "Manage organizations",
}

var orgIndustry string

var orgCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a new organization (operator only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		org, err := c.CreateOrganization(ctx, args[0], orgIndustry)
		if err != nil {
			return err
		}
		key, err := c.CreateAPIKey(ctx, org.ID)
		if err != nil {
			return fmt.Errorf("organization created (%s) but key minting failed: %w", org.ID, err)
		}

		fmt.Printf("organization %s\n", org.ID)
		fmt.Printf("  api key: %s\n", key)
		fmt.Println("  store this key now; it cannot be retrieved again")
		return nil
	},
}

var orgGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show an organization and its integrity score",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		org, err := c.GetOrganization(context.Background(), orgID)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s)\n", org.Name, org.ID)
		if org.Industry != "" {
			fmt.Printf("  industry:        %s\n", org.Industry)
		}
		fmt.Printf("  integrity score: %d\n", org.IntegrityScore)
		return nil
	},
}

func init() {
	orgCreateCmd.Flags().StringVar(&orgIndustry, "industry", "", "organization industry")
	orgCmd.AddCommand(orgCreateCmd)
	orgCmd.AddCommand(orgGetCmd)
}

// ── incidents ────────────────────────────────────────────────────────────────

var incidentCmd = &cobra.Command{
	Use:   "incident",
	Short: "Report or resolve incidents",
}

var (
	incidentReporter string
	incidentSystem   string
)

var incidentOpenCmd = &cobra.Command{
	Use:   "open <description>",
	Short: "Report an incident (no credentials required)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		if incidentReporter == "" {
			return fmt.Errorf("--reporter is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		inc, err := c.OpenIncident(context.Background(), orgID, incidentReporter, incidentSystem, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("incident %s opened\n", inc.ID)
		return nil
	},
}

var incidentResolveCmd = &cobra.Command{
	Use:   "resolve <incident-id> <resolution>",
	Short: "Resolve an open incident",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		inc, err := c.ResolveIncident(context.Background(), orgID, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("incident %s resolved\n", inc.ID)
		return nil
	},
}

func init() {
	incidentOpenCmd.Flags().StringVar(&incidentReporter, "reporter", "", "reporter email address")
	incidentOpenCmd.Flags().StringVar(&incidentSystem, "system", "", "AI system name")
	incidentCmd.AddCommand(incidentOpenCmd)
	incidentCmd.AddCommand(incidentResolveCmd)
}

// ── score ────────────────────────────────────────────────────────────────────

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Recompute and seal the organization's integrity score",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOrg(); err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		stats, err := c.RecalculateScore(context.Background(), orgID)
		if err != nil {
			return err
		}
		fmt.Printf("integrity score: %d\n", stats.Score)
		fmt.Printf("  requirements: %d/%d verified\n", stats.VerifiedRequirements, stats.TotalRequirements)
		fmt.Printf("  open incidents: %d\n", stats.OpenIncidents)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("sovereign", version)
	},
}
