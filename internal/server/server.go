// Package server accepts TCP connections and hands them, one at a time, to a
// connection handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/drawbridge/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const unknownAddress = "unknown address"

// ConnHandler processes one accepted connection end to end.
type ConnHandler interface {
	Handle(ctx context.Context, conn net.Conn) error
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(ctx context.Context, conn net.Conn) error

func (f ConnHandlerFunc) Handle(ctx context.Context, conn net.Conn) error {
	return f(ctx, conn)
}

// Listen binds a TCP listener on addr.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind to %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections from ln and passes each to handler, waiting for
// the handler to return before accepting the next one. Connections are
// therefore handled strictly in acceptance order with at most one in flight.
//
// Accept and handler failures are logged and never stop the loop. Serve
// returns nil once ln is closed, or ctx.Err() if ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, handler ConnHandler) error {
	log := zerolog.Ctx(ctx).With().Str("component", "acceptor").Logger()
	metrics := telemetry.GetMetrics()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	// Back off on repeated accept failures such as EMFILE.
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			metrics.AcceptErrors.Add(ctx, 1)
			delay := b.NextBackOff()
			log.Error().Err(err).Dur("retry_in", delay).Msg("failed to initialize connection")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		b.Reset()
		serveConn(ctx, log, metrics, conn, handler)
	}
}

func serveConn(ctx context.Context, log zerolog.Logger, metrics *telemetry.Metrics, conn net.Conn, handler ConnHandler) {
	defer conn.Close()

	peer := peerAddr(conn)
	metrics.ConnectionsAccepted.Add(ctx, 1)
	log.Debug().Str("peer", peer).Msgf("received TCP connection from %s", peer)

	ctx = log.With().Str("peer", peer).Logger().WithContext(ctx)
	ctx, span := telemetry.Tracer().Start(ctx, "drawbridge.connection",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("net.peer.addr", peer)),
	)
	defer span.End()

	started := time.Now()
	err := handler.Handle(ctx, conn)
	metrics.HandleDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	if err != nil {
		metrics.HandleErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Str("peer", peer).Msgf("failed to handle request: %s", err)
	}
}

func peerAddr(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return unknownAddress
	}
	return addr.String()
}
