package newsdedup

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "newsdedup",
		Short: "newsdedup: per-ticker news near-duplicate detector",
		Long: `newsdedup keeps one partition of news per ticker and accepts a text only
where it is not a near-duplicate of something already stored. It combines
MinHash/LSH lexical matching, embedding similarity, a sentiment gate and an
optional language model escalation for ambiguous pairs.`,
		SilenceUsage: true,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.newsdedup.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringSlice("tickers", nil, "tickers to create partitions for at startup")
	rootCmd.PersistentFlags().String("store", "", "record store driver (none, badger, parquet, postgres)")
	rootCmd.PersistentFlags().String("store-path", "", "badger or parquet directory")
	rootCmd.PersistentFlags().Bool("replay", false, "rebuild partitions from the store on startup")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("dedup.tickers", rootCmd.PersistentFlags().Lookup("tickers"))
	viper.BindPFlag("store.driver", rootCmd.PersistentFlags().Lookup("store"))
	viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("store-path"))
	viper.BindPFlag("store.replay", rootCmd.PersistentFlags().Lookup("replay"))
}

// initConfig loads .env, then the config file and NEWSDEDUP_* variables.
func initConfig() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".newsdedup")
	}

	viper.SetEnvPrefix("NEWSDEDUP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
