package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"duocall/internal/client/call"
	"duocall/internal/client/media"
	"duocall/internal/client/signaling"
	"duocall/internal/core/domain"
	"duocall/internal/core/services"
	"duocall/internal/infrastructure/monitoring"
	"duocall/internal/infrastructure/repositories/memory"
	signalsrv "duocall/internal/infrastructure/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startServer(t *testing.T) string {
	t.Helper()

	repo := memory.NewMemoryRegistryRepository()
	registry := services.NewRegistryService(repo, zap.NewNop().Sugar())
	metrics := monitoring.NewPrometheusCollectorWith(prometheus.NewRegistry())
	srv := signalsrv.NewWebSocketServer(registry, metrics, zap.NewNop().Sugar())

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func connectClient(t *testing.T, ctx context.Context, url string) *signaling.Client {
	t.Helper()

	client := signaling.NewClient(url, zap.NewNop().Sugar())
	require.NoError(t, client.Connect(ctx))
	return client
}

// Two clients meet in a room, arrange a call through the relay and converge
// to a stable negotiation; when the caller hangs up the callee is told.
func TestCallFlow_OfferAnswerAndHangup(t *testing.T) {
	url := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sigA := connectClient(t, ctx, url)
	sigB := connectClient(t, ctx, url)

	sourceA := media.NewSyntheticSource(string(sigA.ConnectionID()))
	t.Cleanup(sourceA.Stop)
	sourceB := media.NewSyntheticSource(string(sigB.ConnectionID()))
	t.Cleanup(sourceB.Stop)

	ctrlA := call.NewController(sigA, sourceA, call.Options{
		Identity: "alice", Room: "meet", Kind: media.KindCamera,
	}, zap.NewNop().Sugar())
	ctrlB := call.NewController(sigB, sourceB, call.Options{
		Identity: "bob", Room: "meet", Kind: media.KindCamera,
	}, zap.NewNop().Sugar())

	peerSeen := make(chan domain.ConnectionID, 1)
	ctrlB.OnPeerPresent(func(id domain.ConnectionID, identity domain.Identity) {
		assert.Equal(t, domain.Identity("alice"), identity)
		peerSeen <- id
	})

	peerGone := make(chan domain.Identity, 1)
	ctrlB.OnPeerLeft(func(identity domain.Identity) {
		peerGone <- identity
	})

	runA := make(chan error, 1)
	go func() { runA <- ctrlA.Run(ctx) }()

	// Let alice finish joining before bob probes the room.
	time.Sleep(200 * time.Millisecond)

	runB := make(chan error, 1)
	go func() { runB <- ctrlB.Run(ctx) }()

	select {
	case id := <-peerSeen:
		assert.Equal(t, sigA.ConnectionID(), id)
	case <-ctx.Done():
		t.Fatal("bob never saw alice in the room")
	}

	require.NoError(t, ctrlB.Call(ctx))

	// The offer/answer cycle runs through both event loops; give it a
	// moment before tearing the call down.
	time.Sleep(500 * time.Millisecond)

	ctrlA.Hangup()

	select {
	case identity := <-peerGone:
		assert.Equal(t, domain.Identity("alice"), identity)
	case <-ctx.Done():
		t.Fatal("bob was never told alice left")
	}

	ctrlB.Hangup()
	<-runA
	<-runB
}

// The relay hands offers to the target verbatim and stamps the sender, so a
// client can answer a peer it has never addressed before.
func TestCallFlow_SignalingClientRelay(t *testing.T) {
	url := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sigA := connectClient(t, ctx, url)
	sigB := connectClient(t, ctx, url)

	require.NoError(t, sigA.JoinRoom("alice", "meet"))
	require.NoError(t, waitFor(ctx, sigA, domain.TypeRoomJoined))

	require.NoError(t, sigB.JoinRoom("bob", "meet"))
	require.NoError(t, waitFor(ctx, sigB, domain.TypeRoomJoined))
	require.NoError(t, waitFor(ctx, sigA, domain.TypeRoomJoined))

	sdp := "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"
	require.NoError(t, sigA.SendCallOffer(sigB.ConnectionID(), sdp))

	for {
		select {
		case env := <-sigB.Incoming():
			if env.Type != domain.TypeCallOffer {
				continue
			}
			assert.Equal(t, sigA.ConnectionID(), env.From)
			return
		case <-ctx.Done():
			t.Fatal("offer never reached bob")
		}
	}
}

func waitFor(ctx context.Context, client *signaling.Client, typ string) error {
	for {
		select {
		case env, ok := <-client.Incoming():
			if !ok {
				return domain.ErrSessionClosed
			}
			if env.Type == typ {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
