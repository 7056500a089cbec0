package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/faustus/internal/handler"
	"github.com/zhouzirui/faustus/internal/handler/chat"
	"github.com/zhouzirui/faustus/internal/service/ai"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve /api/chat backed by an Ark chat model",
		RunE: func(cmd *cobra.Command, args []string) error {
			var responder chat.Responder
			if cfg.AI.Enabled() {
				aiService, err := ai.NewService(cmd.Context(), cfg.AI)
				if err != nil {
					log.Warn().Err(err).Msg("failed to initialize AI service, /api/chat will answer 503")
				} else {
					log.Info().Str("model", cfg.AI.Model).Bool("stream", cfg.AI.StreamResponse).Msg("AI service initialized")
					responder = aiService
				}
			} else {
				log.Warn().Msg("Ark credentials not configured, /api/chat will answer 503")
			}

			return startServer(cmd.Context(), "Faustus chat endpoint", cfg.Server.Addr, handler.NewChatRouter(responder))
		},
	}
}
