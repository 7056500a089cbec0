package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/faustus/internal/client"
	"github.com/zhouzirui/faustus/internal/events"
	"github.com/zhouzirui/faustus/internal/service/conversation"
	"github.com/zhouzirui/faustus/internal/service/session"
	"github.com/zhouzirui/faustus/internal/store"
)

// openController restores the saved conversations and builds a controller
// talking to the configured chat endpoint. The returned func closes the store.
func openController(ctx context.Context, sink events.Sink) (*conversation.Controller, func(), error) {
	kv, err := store.NewSQLiteKV(cfg.Client.StorePath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open store %s", cfg.Client.StorePath)
	}
	persistence := store.NewPersistence(kv)

	sessions, err := conversation.LoadSessions(ctx, persistence)
	if err != nil {
		log.Warn().Err(err).Msg("saved conversations unreadable, starting fresh")
		sessions = session.New()
	}

	ctrl := conversation.New(sessions,
		client.New(cfg.Client.ChatURL),
		persistence,
		conversation.WithSink(sink),
		conversation.WithTimeout(cfg.Client.RequestTimeout),
	)
	log.Info().
		Str("chat_url", cfg.Client.ChatURL).
		Str("store", cfg.Client.StorePath).
		Int("conversations", sessions.Len()).
		Msg("conversations restored")

	closeStore := func() {
		if err := kv.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}
	return ctrl, closeStore, nil
}
