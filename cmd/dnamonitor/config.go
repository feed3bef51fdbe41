package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Print the merged configuration, after defaults and environment overrides, as YAML. Secrets are redacted.`,
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db := &cfg.Source.Local.Database.Postgres
	if db.Password != "" {
		db.Password = redacted
	}

	s3 := &cfg.Source.Remote.S3
	if s3.SecretAccessKey != "" {
		s3.SecretAccessKey = redacted
	}

	for i := range cfg.Server.Auth.Basic.Users {
		cfg.Server.Auth.Basic.Users[i].PasswordHash = redacted
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)

	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return enc.Close()
}
