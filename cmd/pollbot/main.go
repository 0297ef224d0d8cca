package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "pollbot",
	Short:         "Daily trivia polls, scoring, and chat for Discord communities",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dailyCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(relinkCmd)
	rootCmd.AddCommand(ondemandCmd)
	rootCmd.AddCommand(weeklyCmd)
	rootCmd.AddCommand(leaderboardCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(knowledgeCmd)
	rootCmd.AddCommand(askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
