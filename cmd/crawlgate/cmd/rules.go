package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/solatis/crawlgate/internal/rules"
	"github.com/solatis/crawlgate/internal/store"
	"github.com/solatis/crawlgate/internal/types"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Author, check and import pricing rules",
}

var rulesImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Validate a YAML rule file and upsert its rules into the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesImport,
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Run static checks on every rule in a YAML rule file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesValidate,
}

var rulesTestCmd = &cobra.Command{
	Use:   "test FILE",
	Short: "Evaluate the rules in a YAML rule file against a sample request",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesTest,
}

func init() {
	rulesImportCmd.Flags().Bool("force", false, "import even when validation reports errors")
	rulesTestCmd.Flags().String("request", "", "JSON file holding the crawler request (required)")
	_ = rulesTestCmd.MarkFlagRequired("request")

	rulesCmd.AddCommand(rulesImportCmd, rulesValidateCmd, rulesTestCmd)
	rootCmd.AddCommand(rulesCmd)
}

// offlineEngine builds an engine for Validate and Test, which need neither
// the rule store nor Initialize.
func offlineEngine(cmd *cobra.Command) (*rules.Engine, error) {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, err
	}
	return rules.NewEngine(cfg.Rules(), store.NewMemoryStore()), nil
}

type ruleReport struct {
	ID   types.RuleID `json:"id"`
	Name string       `json:"name"`
	types.RuleValidationResult
}

func validateAll(engine *rules.Engine, rs []types.PricingRule) ([]ruleReport, bool) {
	reports := make([]ruleReport, 0, len(rs))
	ok := true
	for _, r := range rs {
		res := engine.Validate(r)
		ok = ok && res.Valid
		reports = append(reports, ruleReport{ID: r.ID, Name: r.Name, RuleValidationResult: res})
	}
	return reports, ok
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	rs, err := store.LoadYAMLFile(args[0])
	if err != nil {
		return err
	}
	engine, err := offlineEngine(cmd)
	if err != nil {
		return err
	}

	reports, ok := validateAll(engine, rs)
	if err := printJSON(cmd.OutOrStdout(), reports); err != nil {
		return err
	}
	if !ok {
		return errors.Newf("%s: validation failed", args[0])
	}
	return nil
}

func runRulesTest(cmd *cobra.Command, args []string) error {
	rs, err := store.LoadYAMLFile(args[0])
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("request")
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read request file")
	}
	var req types.CrawlerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.Wrapf(err, "parse request file %s", path)
	}

	engine, err := offlineEngine(cmd)
	if err != nil {
		return err
	}

	type testReport struct {
		ID   types.RuleID `json:"id"`
		Name string       `json:"name"`
		types.TestResult
	}
	reports := make([]testReport, 0, len(rs))
	for _, r := range rs {
		reports = append(reports, testReport{ID: r.ID, Name: r.Name, TestResult: engine.Test(cmd.Context(), r, req)})
	}
	return printJSON(cmd.OutOrStdout(), reports)
}

func runRulesImport(cmd *cobra.Command, args []string) error {
	rs, err := store.LoadYAMLFile(args[0])
	if err != nil {
		return err
	}
	engine, err := offlineEngine(cmd)
	if err != nil {
		return err
	}
	if reports, ok := validateAll(engine, rs); !ok {
		if force, _ := cmd.Flags().GetBool("force"); !force {
			_ = printJSON(cmd.ErrOrStderr(), reports)
			return errors.Newf("%s: validation failed, use --force to import anyway", args[0])
		}
	}

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	database, queries, err := openDatabase(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	ids, err := store.NewSQLStore(queries, logger).UpsertRules(cmd.Context(), rs)
	if err != nil {
		return err
	}
	for i, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%s)\n", id, rs[i].Name)
	}
	return nil
}
