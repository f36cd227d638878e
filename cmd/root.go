package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/AlfredBerg/rod-runner/internal/app"
	"github.com/AlfredBerg/rod-runner/internal/config"
)

var cfgFile string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rod-runner.yaml)")

	f := rootCmd.Flags()
	f.StringP("addr", "a", ":5000", "The listen address of the http api.")
	f.IntP("concurrency", "c", 3, "The number of browsers executing jobs at the same time.")
	f.Int("queue-depth", 0, "The maximum number of queued jobs. 0 means unlimited.")
	f.Int("timeout", 60, "The maximum amount of time in seconds to spend on one job.")
	f.Int("max-script-size", 1<<20, "The maximum size in bytes of a submitted script.")
	f.Int("retain-completed", 1000, "How many finished jobs to keep queryable.")
	f.Int("retention-hours", 72, "How many hours to keep finished jobs queryable.")
	f.String("capture-db", "", "Sqlite file recording the requests job pages make. Empty disables capture.")
	f.Bool("headless", true, "Run the browsers headless.")
	f.Bool("debug", false, "Verbose logging and gin debug mode.")

	cobra.CheckErr(viper.BindPFlags(f))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".rod-runner" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rod-runner")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

var rootCmd = &cobra.Command{
	Use:   "rod-runner",
	Short: "An async browser-automation job runner: submit a script over http, poll for the result",

	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd)
	},
}

func runServer(cmd *cobra.Command) error {
	cfg := config.Default()
	cfg.Addr = viper.GetString("addr")
	cfg.Concurrency = viper.GetInt("concurrency")
	cfg.QueueDepth = viper.GetInt("queue-depth")
	cfg.Timeout = time.Duration(viper.GetInt("timeout")) * time.Second
	cfg.MaxScriptSize = viper.GetInt("max-script-size")
	cfg.RetainCompleted = viper.GetInt("retain-completed")
	cfg.Retention = time.Duration(viper.GetInt("retention-hours")) * time.Hour
	cfg.CaptureDB = viper.GetString("capture-db")
	cfg.Headless = viper.GetBool("headless")
	cfg.Debug = viper.GetBool("debug")

	var log *zap.Logger
	var err error
	if cfg.Debug {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}
