package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Settings are read from --config (default ~/.ticketctl.yaml) and TICKETCTL_*
// environment variables, e.g. TICKETCTL_REDIS_ADDR.
type Settings struct {
	PostgresURL       string        `mapstructure:"postgres_url"`
	UsersDatabaseURL  string        `mapstructure:"users_database_url"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPassword     string        `mapstructure:"redis_password"`
	RedisDB           int           `mapstructure:"redis_db"`
	QueuePending      string        `mapstructure:"queue_pending"`
	QueueProcessing   string        `mapstructure:"queue_processing"`
	QueueDeadLetter   string        `mapstructure:"queue_dead_letter"`
	KeyvaultMasterKey string        `mapstructure:"keyvault_master_key"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
}

var defaults = map[string]any{
	"postgres_url":        "",
	"users_database_url":  "",
	"redis_addr":          "localhost:6379",
	"redis_password":      "",
	"redis_db":            0,
	"queue_pending":       "transactions:pending",
	"queue_processing":    "transactions:processing",
	"queue_dead_letter":   "transactions:dead",
	"keyvault_master_key": "",
	"grace_period":        "30m",
}

type rootOptions struct {
	configFile string
	v          *viper.Viper
}

// NewRootCmd builds the ticketctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "ticketctl",
		Short: "Operator tooling for ticket signing and the transaction queues",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default $HOME/.ticketctl.yaml)")

	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newKeysCmd(opts))
	cmd.AddCommand(newSignCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))
	cmd.AddCommand(newIssueCmd(opts))
	cmd.AddCommand(newScanCmd(opts))
	cmd.AddCommand(newEnqueueCmd(opts))
	cmd.AddCommand(newDLQCmd(opts))
	cmd.AddCommand(newProcessingCmd(opts))
	cmd.AddCommand(newQueuesCmd(opts))
	cmd.AddCommand(newBalanceCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))

	return cmd
}

// Execute runs the root command
func Execute(version string) error {
	cmd := NewRootCmd()
	cmd.Version = version
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (o *rootOptions) load() error {
	for k, val := range defaults {
		o.v.SetDefault(k, val)
	}
	o.v.SetEnvPrefix("TICKETCTL")
	o.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	o.v.AutomaticEnv()

	if o.configFile != "" {
		o.v.SetConfigFile(o.configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		o.v.AddConfigPath(home)
		o.v.SetConfigName(".ticketctl")
		o.v.SetConfigType("yaml")
	}

	if err := o.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func (o *rootOptions) settings() (*Settings, error) {
	var s Settings
	if err := o.v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &s, nil
}
