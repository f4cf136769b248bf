package call

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"duocall/internal/client/media"
	"duocall/internal/client/rtc"
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

func startRelay(t *testing.T) string {
	t.Helper()

	repo := memory.NewMemoryRegistryRepository()
	registry := services.NewRegistryService(repo, zap.NewNop().Sugar())
	metrics := monitoring.NewPrometheusCollectorWith(prometheus.NewRegistry())
	srv := signalsrv.NewWebSocketServer(registry, metrics, zap.NewNop().Sugar())

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func activeSession(c *Controller) *rtc.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func captureKind(c *Controller) media.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}

// waitForSettled polls until the controller holds a stable session with the
// given sender count.
func waitForSettled(t *testing.T, c *Controller, senders int) *rtc.Session {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s := activeSession(c)
		if s != nil && s.State() == rtc.StateStable && s.SenderCount() == senders {
			return s
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("call never settled with %d senders", senders)
	return nil
}

// establishCall brings two controllers through join, discovery and a full
// offer/answer cycle. The second controller returned is the caller.
func establishCall(t *testing.T, ctx context.Context) (*Controller, *Controller) {
	t.Helper()

	url := startRelay(t)

	sigA := signaling.NewClient(url, zap.NewNop().Sugar())
	require.NoError(t, sigA.Connect(ctx))
	sigB := signaling.NewClient(url, zap.NewNop().Sugar())
	require.NoError(t, sigB.Connect(ctx))

	sourceA := media.NewSyntheticSource(string(sigA.ConnectionID()))
	t.Cleanup(sourceA.Stop)
	sourceB := media.NewSyntheticSource(string(sigB.ConnectionID()))
	t.Cleanup(sourceB.Stop)

	ctrlA := NewController(sigA, sourceA, Options{
		Identity: "alice", Room: "meet", Kind: media.KindCamera,
	}, zap.NewNop().Sugar())
	ctrlB := NewController(sigB, sourceB, Options{
		Identity: "bob", Room: "meet", Kind: media.KindCamera,
	}, zap.NewNop().Sugar())

	peerSeen := make(chan struct{}, 1)
	ctrlB.OnPeerPresent(func(domain.ConnectionID, domain.Identity) {
		select {
		case peerSeen <- struct{}{}:
		default:
		}
	})

	go func() { ctrlA.Run(ctx) }()
	go func() { ctrlB.Run(ctx) }()

	select {
	case <-peerSeen:
	case <-time.After(5 * time.Second):
		t.Fatal("caller never discovered its peer")
	}

	require.NoError(t, ctrlB.Call(ctx))
	waitForSettled(t, ctrlB, 2)
	waitForSettled(t, ctrlA, 2)
	return ctrlA, ctrlB
}

func TestCall_WithoutPeerFails(t *testing.T) {
	ctrl := NewController(nil, media.NewSyntheticSource("stream-x"), Options{
		Identity: "alice", Room: "meet",
	}, zap.NewNop().Sugar())

	err := ctrl.Call(context.Background())
	assert.ErrorIs(t, err, domain.ErrPeerUnreachable)
}

func TestAddVideoFeed_WithoutActiveCallFails(t *testing.T) {
	ctrl := NewController(nil, media.NewSyntheticSource("stream-x"), Options{
		Identity: "alice", Room: "meet",
	}, zap.NewNop().Sugar())

	err := ctrl.AddVideoFeed(context.Background(), media.KindScreen)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAddVideoFeed_RenegotiatesToStableOnBothEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ctrlA, ctrlB := establishCall(t, ctx)
	session := activeSession(ctrlB)
	require.NotNil(t, session)

	// Observe the outgoing renegotiation offer while still forwarding it,
	// so a silently-skipped cycle cannot pass as success.
	offerSent := make(chan struct{}, 1)
	peerID := session.PeerID()
	session.OnRenegotiationNeeded(func(sdp string) {
		select {
		case offerSent <- struct{}{}:
		default:
		}
		if err := ctrlB.sig.SendNegoOffer(peerID, sdp); err != nil {
			t.Errorf("failed to send renegotiation offer: %v", err)
		}
	})

	require.NoError(t, ctrlB.AddVideoFeed(ctx, media.KindScreen))
	assert.Equal(t, 3, session.SenderCount())

	select {
	case <-offerSent:
	case <-time.After(5 * time.Second):
		t.Fatal("no renegotiation offer after adding a feed")
	}

	// The offer left this side pending; only the peer's answer settles it.
	waitForSettled(t, ctrlB, 3)
	waitForSettled(t, ctrlA, 2)
}

func TestSwitchVideoSurface_KeepsSendersAndUpdatesKind(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	_, ctrlB := establishCall(t, ctx)
	session := activeSession(ctrlB)
	require.NotNil(t, session)

	require.NoError(t, ctrlB.SwitchVideoSurface(ctx, media.KindScreen))

	assert.Equal(t, 2, session.SenderCount())
	assert.Equal(t, rtc.StateStable, session.State())
	assert.Equal(t, media.KindScreen, captureKind(ctrlB))
}
