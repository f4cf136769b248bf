package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"duocall/internal/client/call"
	"duocall/internal/client/media"
	"duocall/internal/client/signaling"
	"duocall/internal/core/domain"
	"duocall/pkg/config"
	"duocall/pkg/logger"
	"duocall/pkg/utils"

	"github.com/pion/webrtc/v3"
)

func main() {
	cfg := loadConfig()

	zlog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	log := zlog.Sugar()

	identity := domain.Identity(os.Getenv("DUOCALL_IDENTITY"))
	if identity == "" {
		identity = domain.Identity("caller-" + utils.GenerateConnectionID()[:8])
	}
	room := domain.RoomID(os.Getenv("DUOCALL_ROOM"))
	if room == "" {
		log.Fatalw("DUOCALL_ROOM must be set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := signaling.NewClient(cfg.Client.ServerURL, log)
	if err := sig.Connect(ctx); err != nil {
		log.Fatalw("failed to reach signaling server", "server_url", cfg.Client.ServerURL, "error", err)
	}

	source := media.NewSyntheticSource(string(sig.ConnectionID()))
	defer source.Stop()

	var iceURLs []string
	for _, server := range cfg.WebRTC.ICEServers {
		iceURLs = append(iceURLs, server.URLs...)
	}

	controller := call.NewController(sig, source, call.Options{
		Identity:   identity,
		Room:       room,
		Kind:       media.KindCamera,
		ICEServers: iceURLs,
	}, log)

	controller.OnPeerPresent(func(id domain.ConnectionID, peerIdentity domain.Identity) {
		log.Infow("peer available, placing call", "peer_identity", peerIdentity)
		if err := controller.Call(ctx); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				// The peer called first; the incoming offer is already
				// being answered.
				return
			}
			log.Errorw("failed to place call", "error", err)
		}
	})
	controller.OnPeerLeft(func(peerIdentity domain.Identity) {
		log.Infow("peer hung up", "peer_identity", peerIdentity)
	})
	controller.OnRemoteTrack(func(streamID string, track *webrtc.TrackRemote) {
		log.Infow("receiving remote media", "stream_id", streamID, "track_kind", track.Kind().String())
	})

	done := make(chan error, 1)
	go func() {
		done <- controller.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Infow("hanging up")
		controller.Hangup()
		cancel()
		<-done
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrSessionClosed) {
			log.Errorw("call loop ended", "error", err)
		}
	}

	log.Infow("call client stopped", "identity", identity, "room", room)
}

func loadConfig() *config.Config {
	paths := []string{
		os.Getenv("DUOCALL_CONFIG"),
		"configs/config.yaml",
		"config.yaml",
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if cfg, err := config.Load(path); err == nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}
