package cmds

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/itinerary/pkg/webchat"
)

func NewServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the planner over HTTP and websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			convs := webchat.NewConvManager(ctx, a.client, a.doc, a.transport, a.transcriptSink())
			return webchat.NewServer(ctx, addr, convs).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	return cmd
}
