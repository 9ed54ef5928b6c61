package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldenlabs/vaultscope/internal/domain"
)

type stubAggregator struct {
	view *domain.VaultView
	err  error
}

func (s *stubAggregator) Aggregate(context.Context, int64, string) (*domain.VaultView, error) {
	return s.view, s.err
}

func watchServer(t *testing.T, hub *Hub) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/vaults/{chainId}/{address}", hub.HandleWatch)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/vaults/1/0xabc"
}

func TestWatchStreamsVaultFrames(t *testing.T) {
	agg := &stubAggregator{
		view: &domain.VaultView{
			VaultSnapshot: domain.VaultSnapshot{
				Address:     "0xabc",
				ChainID:     1,
				Version:     domain.SchemaV1,
				TotalAssets: big.NewInt(1000),
				TotalSupply: new(big.Int),
			},
			ChainLabel: "Ethereum",
		},
	}
	hub := NewHub(agg, 50*time.Millisecond, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn, resp, err := websocket.DefaultDialer.Dial(watchServer(t, hub), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "first frame arrives on subscribe, before any tick")

	var msg struct {
		Type    string `json:"type"`
		Payload struct {
			Address     string `json:"address"`
			ChainLabel  string `json:"chainLabel"`
			TotalAssets string `json:"totalAssets"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "vault", msg.Type)
	assert.Equal(t, "0xabc", msg.Payload.Address)
	assert.Equal(t, "Ethereum", msg.Payload.ChainLabel)
	assert.Equal(t, "1000", msg.Payload.TotalAssets)
}

func TestWatchSendsErrorFrames(t *testing.T) {
	agg := &stubAggregator{
		err: domain.NewFailure(domain.FailureVaultNotFound, "no vault found at 0xabc on chain 1"),
	}
	hub := NewHub(agg, time.Minute, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn, resp, err := websocket.DefaultDialer.Dial(watchServer(t, hub), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    string `json:"type"`
		Payload struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "vault_not_found", msg.Payload.Kind)
	assert.Contains(t, msg.Payload.Message, "no vault found")
}

func TestWatchRegistrationAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(&stubAggregator{}, time.Minute, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- hub.Run(ctx) }()
	cancel()
	require.Error(t, <-stopped)

	// A connection arriving after the hub stopped must be closed promptly
	// instead of parking a goroutine on the register channel.
	conn, resp, err := websocket.DefaultDialer.Dial(watchServer(t, hub), nil)
	require.NoError(t, err, "the upgrade itself still succeeds")
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "the hub closes the connection, it never registers it")
}
