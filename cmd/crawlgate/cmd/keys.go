package cmd

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/solatis/crawlgate/internal/core/auth"
	"github.com/solatis/crawlgate/internal/core/config"
	"github.com/solatis/crawlgate/internal/types"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage publisher API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue an API key for a publisher (printed once)",
	RunE:  runKeysCreate,
}

func init() {
	keysCreateCmd.Flags().String("publisher", "", "publisher id (required)")
	keysCreateCmd.Flags().String("secret-id", "", "HMAC secret id to sign with (defaults to the only configured secret)")
	_ = keysCreateCmd.MarkFlagRequired("publisher")

	keysCmd.AddCommand(keysCreateCmd)
	rootCmd.AddCommand(keysCmd)
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return errors.Wrap(err, "load HMAC secrets")
	}
	secretID, _ := cmd.Flags().GetString("secret-id")
	if secretID == "" {
		if len(secrets) != 1 {
			return errors.Newf("%d HMAC secrets configured, pass --secret-id", len(secrets))
		}
		for id := range secrets {
			secretID = id
		}
	}

	database, queries, err := openDatabase(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	publisher, _ := cmd.Flags().GetString("publisher")
	key, err := auth.NewAuthenticator(secrets, queries).IssueKey(cmd.Context(), secretID, types.PublisherID(publisher))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}
