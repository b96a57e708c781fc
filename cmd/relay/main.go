package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/supportrelay/cmd/relay/chat"
	servecmder "github.com/papercomputeco/supportrelay/cmd/relay/serve"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Customer support chat relay",
		Long:          "relay keeps per-session chat histories and forwards them to an LLM completion service.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())

	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
