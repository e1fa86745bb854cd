// Package server implements the single-query-multiple-response (SQMR)
// protocol: a client opens a session with one query and the remote handler
// streams back any number of response messages before closing the session.
package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-varint"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	pmetrics "github.com/meshwire/meshwire/p2p/metrics"
)

// Wire format: the query is a uvarint length prefix followed by the payload.
// Responses are a sequence of frames, each a single kind byte followed by a
// uvarint-prefixed payload for data and error frames.
const (
	frameData  = 0x00
	frameError = 0x01
	frameEnd   = 0x02
)

var (
	// ErrNotConnected is returned when peer is not connected.
	ErrNotConnected = errors.New("peer is not connected")
	// ErrQueryTooLarge is returned when the query exceeds the size limit.
	ErrQueryTooLarge = errors.New("query size exceeds limit")
)

// ServerError represents an error returned by the remote handler.
type ServerError struct {
	msg string
}

func NewServerError(msg string) *ServerError {
	return &ServerError{msg: msg}
}

func (*ServerError) Is(target error) bool {
	_, ok := target.(*ServerError)
	return ok
}

func (err *ServerError) Error() string {
	return fmt.Sprintf("peer error: %s", err.msg)
}

// Host is the subset of the libp2p host used by the server.
type Host interface {
	SetStreamHandler(pid protocol.ID, handler network.StreamHandler)
	NewStream(ctx context.Context, p peer.ID, pids ...protocol.ID) (network.Stream, error)
	Network() network.Network
}

// Opt is a type to configure a server.
type Opt func(s *Server)

// WithTimeout configures the stream timeout. A session is terminated when no
// frame is sent or received for the specified duration.
func WithTimeout(timeout time.Duration) Opt {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// WithHardTimeout configures the hard timeout. Sessions are terminated if
// they last longer than the specified duration.
func WithHardTimeout(timeout time.Duration) Opt {
	return func(s *Server) {
		s.hardTimeout = timeout
	}
}

// WithLog configures logger for the server.
func WithLog(logger *zap.Logger) Opt {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRequestSizeLimit configures the maximum size of a query and of a
// single response message.
func WithRequestSizeLimit(limit int) Opt {
	return func(s *Server) {
		s.requestLimit = limit
	}
}

// WithQueueSize parametrizes the number of sessions that will be kept in
// queue and eventually processed by the server. Streams above that are closed
// immediately.
//
// Defaults to 1000.
func WithQueueSize(size int) Opt {
	return func(s *Server) {
		s.queueSize = size
	}
}

// WithRequestsPerInterval parametrizes the server rate limit to bound the
// bandwidth this handler can consume.
//
// Defaults to 100 requests per second.
func WithRequestsPerInterval(n int, interval time.Duration) Opt {
	return func(s *Server) {
		s.requestsPerInterval = n
		s.interval = interval
	}
}

// WithMetrics enables the per-protocol prometheus tracker.
func WithMetrics() Opt {
	return func(s *Server) {
		s.metrics = newTracker(s.protocol)
	}
}

// WithSessionMetrics attaches the SQMR session gauges. They must be
// registered by the owning aggregate before the server runs.
func WithSessionMetrics(sessions *pmetrics.SqmrNetworkMetrics) Opt {
	return func(s *Server) {
		s.sessions = sessions
	}
}

// Handler handles a query and emits responses through the writer. A returned
// error is forwarded to the client and terminates the session.
type Handler func(ctx context.Context, query []byte, w *ResponseWriter) error

// ResponseWriter streams response messages of a single session back to the
// client.
type ResponseWriter struct {
	w      *bufio.Writer
	limit  int
	extend func()
}

// Write sends one response message.
func (w *ResponseWriter) Write(msg []byte) error {
	if len(msg) > w.limit {
		return fmt.Errorf("response size %d exceeds limit %d", len(msg), w.limit)
	}
	if w.extend != nil {
		w.extend()
	}
	if err := w.w.WriteByte(frameData); err != nil {
		return err
	}
	if err := writeUvarint(w.w, uint64(len(msg))); err != nil {
		return err
	}
	if _, err := w.w.Write(msg); err != nil {
		return err
	}
	return w.w.Flush()
}

// Server for the Handler.
type Server struct {
	logger              *zap.Logger
	protocol            string
	handler             Handler
	timeout             time.Duration
	hardTimeout         time.Duration
	requestLimit        int
	queueSize           int
	requestsPerInterval int
	interval            time.Duration

	metrics  *tracker // metrics can be nil
	sessions *pmetrics.SqmrNetworkMetrics

	h Host
}

// New server for the handler.
func New(h Host, proto string, handler Handler, opts ...Opt) *Server {
	srv := &Server{
		logger:              zap.NewNop(),
		protocol:            proto,
		handler:             handler,
		h:                   h,
		timeout:             25 * time.Second,
		hardTimeout:         5 * time.Minute,
		requestLimit:        10240,
		queueSize:           1000,
		requestsPerInterval: 100,
		interval:            time.Second,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

type session struct {
	stream   network.Stream
	received time.Time
}

// Run starts accepting sessions. It returns after ctx is canceled and all
// in-flight sessions completed.
func (s *Server) Run(ctx context.Context) error {
	limit := rate.NewLimiter(rate.Every(s.interval/time.Duration(s.requestsPerInterval)), s.requestsPerInterval)
	queue := make(chan session, s.queueSize)
	if s.metrics != nil {
		s.metrics.targetQueue.Set(float64(s.queueSize))
		s.metrics.targetRps.Set(float64(limit.Limit()))
	}
	s.h.SetStreamHandler(protocol.ID(s.protocol), func(stream network.Stream) {
		select {
		case queue <- session{stream: stream, received: time.Now()}:
			if s.metrics != nil {
				s.metrics.queue.Set(float64(len(queue)))
				s.metrics.accepted.Inc()
			}
		default:
			if s.metrics != nil {
				s.metrics.dropped.Inc()
			}
			stream.Close()
		}
	})

	var eg errgroup.Group
	eg.SetLimit(s.queueSize)
	for {
		select {
		case <-ctx.Done():
			eg.Wait()
			return nil
		case sess := <-queue:
			if err := limit.Wait(ctx); err != nil {
				eg.Wait()
				return nil
			}
			eg.Go(func() error {
				ok := s.serveSession(ctx, sess.stream)
				if s.metrics != nil {
					s.metrics.serverLatency.Observe(time.Since(sess.received).Seconds())
					if ok {
						s.metrics.completed.Inc()
					} else {
						s.metrics.failed.Inc()
					}
				}
				return nil
			})
		}
	}
}

func (s *Server) serveSession(ctx context.Context, stream network.Stream) bool {
	if s.sessions != nil {
		s.sessions.NumActiveInboundSessions.Inc()
		defer s.sessions.NumActiveInboundSessions.Dec()
	}
	start := time.Now()
	defer stream.Close()
	s.adjustDeadline(stream, start)
	rd := bufio.NewReader(stream)
	size, err := varint.ReadUvarint(rd)
	if err != nil {
		s.logger.Debug("initial read failed",
			zap.String("protocol", s.protocol),
			zap.Stringer("remotePeer", stream.Conn().RemotePeer()),
			zap.Error(err),
		)
		return false
	}
	if size > uint64(s.requestLimit) {
		s.logger.Warn("query limit overflow",
			zap.String("protocol", s.protocol),
			zap.Stringer("remotePeer", stream.Conn().RemotePeer()),
			zap.Int("limit", s.requestLimit),
			zap.Uint64("query", size),
		)
		stream.Conn().Close()
		return false
	}
	query := make([]byte, size)
	if _, err := io.ReadFull(rd, query); err != nil {
		s.logger.Debug("error reading query",
			zap.String("protocol", s.protocol),
			zap.Stringer("remotePeer", stream.Conn().RemotePeer()),
			zap.Error(err),
		)
		return false
	}
	s.adjustDeadline(stream, start)
	wr := bufio.NewWriter(stream)
	w := &ResponseWriter{w: wr, limit: s.requestLimit, extend: func() {
		s.adjustDeadline(stream, start)
	}}
	if err := s.handler(ctx, query, w); err != nil {
		s.logger.Debug("handler reported error",
			zap.String("protocol", s.protocol),
			zap.Stringer("remotePeer", stream.Conn().RemotePeer()),
			zap.Error(err),
		)
		if werr := writeTerminalFrame(wr, frameError, []byte(err.Error())); werr != nil {
			s.logger.Debug("failed to forward handler error",
				zap.String("protocol", s.protocol),
				zap.Error(werr),
			)
		}
		return false
	}
	if err := writeTerminalFrame(wr, frameEnd, nil); err != nil {
		s.logger.Debug("failed to close session",
			zap.String("protocol", s.protocol),
			zap.Stringer("remotePeer", stream.Conn().RemotePeer()),
			zap.Error(err),
		)
		return false
	}
	s.logger.Debug("session served",
		zap.String("protocol", s.protocol),
		zap.Stringer("remotePeer", stream.Conn().RemotePeer()),
		zap.Duration("duration", time.Since(start)),
	)
	return true
}

// adjustDeadline extends the stream deadline by the idle timeout, bounded by
// the hard timeout counted from session start.
func (s *Server) adjustDeadline(stream network.Stream, start time.Time) {
	deadline := time.Now().Add(s.timeout)
	if hard := start.Add(s.hardTimeout); hard.Before(deadline) {
		deadline = hard
	}
	stream.SetDeadline(deadline)
}

// StreamResponseCallback consumes one response message of a session.
type StreamResponseCallback func(ctx context.Context, msg []byte) error

// Request opens a session with the peer and collects all response messages.
func (s *Server) Request(ctx context.Context, pid peer.ID, query []byte) ([][]byte, error) {
	var responses [][]byte
	if err := s.StreamRequest(ctx, pid, query, func(_ context.Context, msg []byte) error {
		responses = append(responses, msg)
		return nil
	}); err != nil {
		return nil, err
	}
	return responses, nil
}

// StreamRequest opens a session with the peer and invokes the callback for
// every response message as it arrives.
func (s *Server) StreamRequest(
	ctx context.Context,
	pid peer.ID,
	query []byte,
	callback StreamResponseCallback,
) error {
	start := time.Now()
	if len(query) > s.requestLimit {
		return fmt.Errorf("%w: %d > %d", ErrQueryTooLarge, len(query), s.requestLimit)
	}
	if s.h.Network().Connectedness(pid) != network.Connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, pid)
	}
	if s.sessions != nil {
		s.sessions.NumActiveOutboundSessions.Inc()
		defer s.sessions.NumActiveOutboundSessions.Dec()
	}

	ctx, cancel := context.WithTimeout(ctx, s.hardTimeout)
	defer cancel()
	err := s.streamRequest(ctx, pid, query, callback, start)

	serverError := errors.Is(err, &ServerError{})
	took := time.Since(start).Seconds()
	switch {
	case s.metrics == nil:
	case serverError:
		s.metrics.clientServerError.Inc()
		s.metrics.clientLatency.Observe(took)
	case err != nil:
		s.metrics.clientFailed.Inc()
		s.metrics.clientLatencyFailure.Observe(took)
	default:
		s.metrics.clientSucceeded.Inc()
		s.metrics.clientLatency.Observe(took)
	}
	return err
}

func (s *Server) streamRequest(
	ctx context.Context,
	pid peer.ID,
	query []byte,
	callback StreamResponseCallback,
	start time.Time,
) error {
	stream, err := s.h.NewStream(
		network.WithNoDial(ctx, "existing connection"),
		pid,
		protocol.ID(s.protocol),
	)
	if err != nil {
		return err
	}
	defer stream.Close()
	s.adjustDeadline(stream, start)
	wr := bufio.NewWriter(stream)
	if err := writeUvarint(wr, uint64(len(query))); err != nil {
		return fmt.Errorf("peer %s: %w", pid, err)
	}
	if _, err := wr.Write(query); err != nil {
		return fmt.Errorf("peer %s: %w", pid, err)
	}
	if err := wr.Flush(); err != nil {
		return fmt.Errorf("peer %s: %w", pid, err)
	}

	rd := bufio.NewReader(stream)
	for {
		s.adjustDeadline(stream, start)
		kind, msg, err := readFrame(rd, s.requestLimit)
		if err != nil {
			return fmt.Errorf("peer %s: %w", pid, err)
		}
		switch kind {
		case frameEnd:
			return nil
		case frameError:
			return NewServerError(string(msg))
		case frameData:
			if err := callback(ctx, msg); err != nil {
				return err
			}
		default:
			return fmt.Errorf("peer %s: unexpected frame kind %d", pid, kind)
		}
	}
}

func writeTerminalFrame(wr *bufio.Writer, kind byte, msg []byte) error {
	if err := wr.WriteByte(kind); err != nil {
		return err
	}
	if kind == frameError {
		if err := writeUvarint(wr, uint64(len(msg))); err != nil {
			return err
		}
		if _, err := wr.Write(msg); err != nil {
			return err
		}
	}
	return wr.Flush()
}

func writeUvarint(wr *bufio.Writer, v uint64) error {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, v)
	_, err := wr.Write(buf[:n])
	return err
}

func readFrame(rd *bufio.Reader, limit int) (byte, []byte, error) {
	kind, err := rd.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	if kind == frameEnd {
		return kind, nil, nil
	}
	size, err := varint.ReadUvarint(rd)
	if err != nil {
		return 0, nil, err
	}
	if size > uint64(limit) {
		return 0, nil, fmt.Errorf("frame size %d exceeds limit %d", size, limit)
	}
	msg := make([]byte, size)
	if _, err := io.ReadFull(rd, msg); err != nil {
		return 0, nil, err
	}
	return kind, msg, nil
}

// NumAcceptedRequests returns the number of accepted sessions for this
// server. It is used for testing.
func (s *Server) NumAcceptedRequests() int {
	if s.metrics == nil {
		return -1
	}
	m := &dto.Metric{}
	if err := s.metrics.accepted.Write(m); err != nil {
		panic("failed to get metric: " + err.Error())
	}
	return int(m.Counter.GetValue())
}
