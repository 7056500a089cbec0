package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/faustus/internal/handler/repl"
	"github.com/zhouzirui/faustus/internal/logging"
)

func newChatCommand() *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the endpoint from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []repl.Option
			if logging.IsTerminal(os.Stdout) {
				opts = append(opts, repl.WithMarkdown(style, 80))
			}
			r := repl.New(os.Stdin, os.Stdout, opts...)

			ctrl, closeStore, err := openController(cmd.Context(), r.Sink())
			if err != nil {
				return err
			}
			defer closeStore()

			return r.Run(cmd.Context(), ctrl)
		},
	}
	cmd.Flags().StringVar(&style, "style", "dark", "glamour style for replies on a terminal")
	return cmd
}
