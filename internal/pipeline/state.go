package pipeline

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/plexload/pkg/metrics"
	"github.com/ajitpratap0/plexload/pkg/observability"
	"github.com/ajitpratap0/plexload/pkg/plexerrors"
)

// State is a conversion run state.
type State string

const (
	StateIdle               State = "idle"
	StateReadingMetadata    State = "reading_metadata"
	StateBuildingSchema     State = "building_schema"
	StateDecodingAndLoading State = "decoding_and_loading"
	StateFinalizing         State = "finalizing"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// States lists every state in run order.
var States = []State{
	StateIdle, StateReadingMetadata, StateBuildingSchema, StateDecodingAndLoading,
	StateFinalizing, StateDone, StateFailed,
}

var next = map[State]State{
	StateIdle:               StateReadingMetadata,
	StateReadingMetadata:    StateBuildingSchema,
	StateBuildingSchema:     StateDecodingAndLoading,
	StateDecodingAndLoading: StateFinalizing,
	StateFinalizing:         StateDone,
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether from → to is allowed. Every non-terminal
// state may fail.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	return to == StateFailed || next[from] == to
}

// TransitionFunc observes state changes.
type TransitionFunc func(from, to State)

var stateNames = func() []string {
	out := make([]string, len(States))
	for i, s := range States {
		out[i] = string(s)
	}
	return out
}()

// machine tracks the run state and keeps one span open per state.
type machine struct {
	mu           sync.Mutex
	state        State
	logger       *zap.Logger
	onTransition TransitionFunc
	span         *observability.Span
}

func newMachine(logger *zap.Logger, onTransition TransitionFunc) *machine {
	metrics.SetState(string(StateIdle), stateNames)
	return &machine{state: StateIdle, logger: logger, onTransition: onTransition}
}

func (m *machine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// enter moves to s and returns ctx carrying the new state's span.
func (m *machine) enter(ctx context.Context, s State) (context.Context, error) {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, s) {
		m.mu.Unlock()
		return ctx, plexerrors.Newf(plexerrors.ErrorTypeInternal, "invalid state transition %s -> %s", from, s)
	}
	m.state = s
	if m.span != nil {
		m.span.End()
		m.span = nil
	}
	if !s.Terminal() {
		ctx, m.span = observability.Start(ctx, "pipeline."+string(s), attribute.String("plexload.state", string(s)))
	}
	m.mu.Unlock()

	metrics.SetState(string(s), stateNames)
	m.logger.Info("state transition", zap.String("from", string(from)), zap.String("to", string(s)))
	if m.onTransition != nil {
		m.onTransition(from, s)
	}
	return ctx, nil
}

// fail moves to StateFailed unless the run already ended.
func (m *machine) fail(ctx context.Context, err error) {
	m.mu.Lock()
	if m.span != nil {
		m.span.Finish(err)
		m.span = nil
	}
	terminal := m.state.Terminal()
	m.mu.Unlock()
	if !terminal {
		_, _ = m.enter(ctx, StateFailed)
	}
}
