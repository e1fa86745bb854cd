package server

import (
	"context"
	"errors"
	"testing"
	"time"

	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/meshwire/meshwire/metrics"
	pmetrics "github.com/meshwire/meshwire/p2p/metrics"
)

func newSessionMetrics(t *testing.T) *pmetrics.SqmrNetworkMetrics {
	t.Helper()
	sessions := pmetrics.NewSqmrNetworkMetrics(metrics.WithRegisterer(prometheus.NewRegistry()))
	sessions.Register()
	return sessions
}

func TestServer(t *testing.T) {
	const limit = 1024
	const proto = "itest"

	mesh, err := mocknet.FullMeshConnected(4)
	require.NoError(t, err)
	query := []byte("test query")
	testErr := errors.New("test error")

	// responds with the query repeated three times, one message each
	handler := func(_ context.Context, q []byte, w *ResponseWriter) error {
		for i := 0; i < 3; i++ {
			if err := w.Write(q); err != nil {
				return err
			}
		}
		return nil
	}
	errhandler := func(_ context.Context, _ []byte, _ *ResponseWriter) error {
		return testErr
	}
	opts := []Opt{
		WithTimeout(100 * time.Millisecond),
		WithLog(zaptest.NewLogger(t)),
		WithMetrics(),
	}
	client := New(
		mesh.Hosts()[0],
		proto,
		handler,
		append(opts, WithRequestSizeLimit(2*limit), WithSessionMetrics(newSessionMetrics(t)))...,
	)
	srv1 := New(
		mesh.Hosts()[1],
		proto,
		handler,
		append(opts, WithRequestSizeLimit(limit), WithSessionMetrics(newSessionMetrics(t)))...,
	)
	srv2 := New(
		mesh.Hosts()[2],
		proto,
		errhandler,
		append(opts, WithRequestSizeLimit(limit))...,
	)
	ctx, cancel := context.WithCancel(context.Background())
	var eg errgroup.Group
	eg.Go(func() error {
		return srv1.Run(ctx)
	})
	eg.Go(func() error {
		return srv2.Run(ctx)
	})
	require.Eventually(t, func() bool {
		for _, h := range mesh.Hosts()[1:3] {
			if len(h.Mux().Protocols()) == 0 {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		eg.Wait()
	})

	t.Run("MultipleResponses", func(t *testing.T) {
		accepted := srv1.NumAcceptedRequests()
		responses, err := client.Request(ctx, mesh.Hosts()[1].ID(), query)
		require.NoError(t, err)
		require.Len(t, responses, 3)
		for _, response := range responses {
			require.Equal(t, query, response)
		}
		require.Equal(t, accepted+1, srv1.NumAcceptedRequests())
	})
	t.Run("ReceiveError", func(t *testing.T) {
		_, err := client.Request(ctx, mesh.Hosts()[2].ID(), query)
		require.ErrorIs(t, err, &ServerError{})
		require.ErrorContains(t, err, testErr.Error())
	})
	t.Run("QueryTooLarge", func(t *testing.T) {
		_, err := client.Request(ctx, mesh.Hosts()[1].ID(), make([]byte, 3*limit))
		require.ErrorIs(t, err, ErrQueryTooLarge)
	})
	t.Run("NotConnected", func(t *testing.T) {
		disconnected := New(mesh.Hosts()[3], proto, handler, opts...)
		require.NoError(t, mesh.DisconnectPeers(mesh.Hosts()[3].ID(), mesh.Hosts()[1].ID()))
		_, err := disconnected.Request(ctx, mesh.Hosts()[1].ID(), query)
		require.ErrorIs(t, err, ErrNotConnected)
	})
	t.Run("SessionGaugesReturnToZero", func(t *testing.T) {
		_, err := client.Request(ctx, mesh.Hosts()[1].ID(), query)
		require.NoError(t, err)
		require.Zero(t, client.sessions.NumActiveOutboundSessions.Value())
		require.Zero(t, srv1.sessions.NumActiveInboundSessions.Value())
	})
}

func TestSessionGaugesWhileActive(t *testing.T) {
	const proto = "gauges"

	mesh, err := mocknet.FullMeshConnected(2)
	require.NoError(t, err)

	release := make(chan struct{})
	entered := make(chan struct{})
	handler := func(_ context.Context, q []byte, w *ResponseWriter) error {
		close(entered)
		<-release
		return w.Write(q)
	}
	srvSessions := newSessionMetrics(t)
	clientSessions := newSessionMetrics(t)
	srv := New(mesh.Hosts()[1], proto, handler,
		WithLog(zaptest.NewLogger(t)), WithSessionMetrics(srvSessions))
	client := New(mesh.Hosts()[0], proto, nil,
		WithLog(zaptest.NewLogger(t)), WithSessionMetrics(clientSessions))

	ctx, cancel := context.WithCancel(context.Background())
	var eg errgroup.Group
	eg.Go(func() error {
		return srv.Run(ctx)
	})
	require.Eventually(t, func() bool {
		return len(mesh.Hosts()[1].Mux().Protocols()) > 0
	}, time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		eg.Wait()
	})

	done := make(chan error, 1)
	go func() {
		_, err := client.Request(ctx, mesh.Hosts()[1].ID(), []byte("q"))
		done <- err
	}()

	<-entered
	require.Equal(t, float64(1), srvSessions.NumActiveInboundSessions.Value())
	require.Equal(t, float64(1), clientSessions.NumActiveOutboundSessions.Value())

	close(release)
	require.NoError(t, <-done)
	require.Zero(t, srvSessions.NumActiveInboundSessions.Value())
	require.Zero(t, clientSessions.NumActiveOutboundSessions.Value())
}

func TestFrameRoundtrip(t *testing.T) {
	mesh, err := mocknet.FullMeshConnected(2)
	require.NoError(t, err)
	const proto = "frames"

	// a single empty response message is distinct from end-of-session
	handler := func(_ context.Context, _ []byte, w *ResponseWriter) error {
		return w.Write(nil)
	}
	srv := New(mesh.Hosts()[1], proto, handler, WithLog(zaptest.NewLogger(t)))
	client := New(mesh.Hosts()[0], proto, nil, WithLog(zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	var eg errgroup.Group
	eg.Go(func() error {
		return srv.Run(ctx)
	})
	require.Eventually(t, func() bool {
		return len(mesh.Hosts()[1].Mux().Protocols()) > 0
	}, time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		eg.Wait()
	})

	responses, err := client.Request(ctx, mesh.Hosts()[1].ID(), []byte("q"))
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.Empty(t, responses[0])
}
