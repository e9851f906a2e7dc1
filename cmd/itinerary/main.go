package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/itinerary/cmd/itinerary/cmds"
	"github.com/go-go-golems/itinerary/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "itinerary",
	Short: "itinerary plans trips with a streaming chat assistant",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		return clay.InitLogger()
	},
	SilenceUsage: true,
}

func main() {
	config.AddFlags(rootCmd)

	err := clay.InitViper(config.AppName, rootCmd)
	cobra.CheckErr(err)
	err = clay.InitLogger()
	cobra.CheckErr(err)

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewServeCommand(),
		cmds.NewTranscriptsCommand(),
	)

	err = rootCmd.Execute()
	cobra.CheckErr(err)
}
