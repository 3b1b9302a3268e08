package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fhr",
		Short:         "考勤打卡分析工具",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newAnalyzeCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newCleanupCommand())
	rootCmd.AddCommand(newRecentCommand())

	return rootCmd
}
