package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/l1jgo/lobby/internal/net/packet"
	"github.com/l1jgo/lobby/internal/observability"
	"github.com/l1jgo/lobby/internal/session"
)

// Outcome is the result of one dispatch.
type Outcome int

const (
	// Handled: the handler ran and did not report failure.
	Handled Outcome = iota
	// Failed: the handler returned an error or panicked.
	Failed
	// Unknown: no handler is registered for the command.
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case Failed:
		return "failed"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Handled reports whether the command was handled.
func (o Outcome) Handled() bool {
	return o == Handled
}

// Dispatcher invokes handlers from one registry on behalf of one lobby type.
type Dispatcher struct {
	registry  *Registry
	lobbyType string
	metrics   *observability.Metrics
	tracer    trace.Tracer
	log       *zap.Logger
}

func NewDispatcher(reg *Registry, lobbyType session.LobbyType, metrics *observability.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  reg,
		lobbyType: lobbyType.String(),
		metrics:   metrics,
		tracer:    otel.Tracer("github.com/l1jgo/lobby/internal/command"),
		log:       log,
	}
}

// Registry returns the table the dispatcher reads from.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs the handler registered for pkt.Command. Handler errors and
// panics are logged and reported as Failed; they never reach the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, pkt packet.Packet, lobby *session.Lobby) Outcome {
	decl, ok := d.registry.Lookup(pkt.Command)
	if !ok {
		d.log.Debug("no handler for command",
			zap.String("command", fmt.Sprintf("0x%04X", pkt.Command)),
			zap.String("lobby_type", d.lobbyType),
		)
		d.metrics.PacketDispatched(d.lobbyType, pkt.Command, Unknown.String(), 0)
		return Unknown
	}

	ctx, span := d.tracer.Start(ctx, "dispatch "+decl.Name,
		trace.WithAttributes(
			attribute.Int("lobby.command", int(pkt.Command)),
			attribute.String("lobby.type", d.lobbyType),
			attribute.Int64("lobby.conn", int64(conn.ID())),
		),
	)
	defer span.End()

	log := d.log.With(
		zap.Uint64("conn", conn.ID()),
		zap.String("command", fmt.Sprintf("0x%04X", pkt.Command)),
	)
	c := NewContext(ctx, conn, pkt, lobby, log)

	start := time.Now()
	err := d.safeCall(decl, c)
	outcome := Handled
	if err != nil {
		outcome = Failed
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrNotHandled) {
			log.Debug("handler reported failure", zap.String("handler", decl.Name))
		} else {
			log.Warn("handler failed", zap.String("handler", decl.Name), zap.Error(err))
		}
	}
	d.metrics.PacketDispatched(d.lobbyType, pkt.Command, outcome.String(), time.Since(start).Seconds())
	return outcome
}

// safeCall executes a handler with panic recovery so that a single bad
// packet cannot tear down the connection's worker.
func (d *Dispatcher) safeCall(decl Declaration, c *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.Log.Error("handler panic recovered",
				zap.String("handler", decl.Name),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for command 0x%04X: %v", decl.ID, rec)
		}
	}()
	return decl.Handler.Handle(c)
}
