package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/voicehub/internal/client"
	"github.com/dkeye/voicehub/internal/domain"
)

func main() {
	url := pflag.String("url", "ws://localhost:8080/api/ws/signal", "hub websocket url")
	cookieName := pflag.String("cookie-name", "VoiceSessions", "session cookie name")
	cookieValue := pflag.String("session", "", "session cookie value")
	channel := pflag.Int64("channel", 0, "voice channel to join once connected")
	debug := pflag.Bool("debug", false, "debug logging")
	pflag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *cookieValue == "" {
		log.Fatal().Msg("--session is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var engine *client.Engine
	engine = client.New(client.Options{
		URL: *url,
		OnMessage: func(env domain.Envelope) {
			log.Info().Str("type", env.Type).RawJSON("data", orEmpty(env.Data)).Msg("received")
		},
		OnState: func(s client.State) {
			log.Info().Stringer("state", s).Msg("state")
			switch s {
			case client.Connected:
				if *channel > 0 {
					go join(engine, domain.ChannelID(*channel))
				}
			case client.GivenUp:
				log.Error().Msg("giving up")
				cancel()
			}
		},
	})

	if err := engine.Login(&http.Cookie{Name: *cookieName, Value: *cookieValue}); err != nil {
		log.Fatal().Err(err).Msg("login")
	}
	if err := engine.Run(ctx); err != nil {
		log.Error().Err(err).Msg("engine")
	}
}

func join(engine *client.Engine, ch domain.ChannelID) {
	env, err := client.JoinChannel(ch)
	if err != nil {
		log.Error().Err(err).Msg("encode join")
		return
	}
	if err := engine.Send(env); err != nil {
		log.Error().Err(err).Msg("send join")
	}
}

func orEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
