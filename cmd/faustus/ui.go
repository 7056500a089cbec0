package main

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/faustus/internal/events"
	"github.com/zhouzirui/faustus/internal/handler"
)

const eventsTopic = "faustus.events"

func newUICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Serve the conversation API and event websocket for a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			pubSub := gochannel.NewGoChannel(gochannel.Config{
				OutputChannelBuffer:            256,
				BlockPublishUntilSubscriberAck: true,
			}, watermill.NopLogger{})
			defer pubSub.Close()

			ctrl, closeStore, err := openController(cmd.Context(), events.NewWatermillSink(pubSub, eventsTopic))
			if err != nil {
				return err
			}
			defer closeStore()

			router := handler.NewUIRouter(ctrl, pubSub, eventsTopic)
			return startServer(cmd.Context(), "Faustus ui", cfg.UI.Addr, router)
		},
	}
}
