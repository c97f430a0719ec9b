package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DeLi-Labs/deli-app/pkg/config"
)

const (
	flagEnvFile  = "env-file"
	flagConfig   = "config"
	flagListen   = "listen"
	flagLogLevel = "log-level"
)

// NewRootCmd creates the deli_gateway command tree.
func NewRootCmd() *cobra.Command {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:           "deli_gateway",
		Short:         "DeLi IP marketplace gateway",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetOut(cmd.OutOrStdout())
			cmd.SetErr(cmd.ErrOrStderr())

			envFile, _ := cmd.Flags().GetString(flagEnvFile)
			return config.LoadDotEnv(envFile)
		},
	}
	rootCmd.PersistentFlags().String(flagEnvFile, ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().String(flagConfig, "", "optional config file (yaml, toml or json)")

	rootCmd.AddCommand(
		serveCmd(v),
		sealCmd(v),
		keygenCmd(),
	)
	return rootCmd
}

// loadConfig resolves the configuration for cmd once flags are parsed.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString(flagConfig)
	return config.Load(v, configFile)
}
