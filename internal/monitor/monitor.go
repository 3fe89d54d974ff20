package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// EventKind discriminates the monitor's single terminal event.
type EventKind string

const (
	EventMatched  EventKind = "matched"
	EventTimedOut EventKind = "timed_out"
)

// Event is the one terminal event a monitor emits.
type Event struct {
	Kind    EventKind
	Signal  string // Which trigger keyword fired (matched only)
	Snippet string // The matched line (matched only)
}

// OutputReader pulls recent rendered output for an instance. The
// supervisor satisfies this through a thin adapter that pins the
// caller's role.
type OutputReader interface {
	Read(ctx context.Context, instanceID string, maxLines int) (string, error)
}

// Config tunes one monitor wait.
type Config struct {
	Signals      []string
	PollInterval time.Duration
	Timeout      time.Duration
	BufferSize   int // Rolling buffer cap in bytes
	ReadLines    int // Lines pulled per poll
}

// State carries a monitor's ingest position between waits on the same
// instance. A fresh monitor resumed from it treats everything consumed
// up to the checkpoint as already seen, so stale pane text — including
// a signal that fired in an earlier wait — cannot fire again; only
// output newer than the checkpoint can match.
type State struct {
	lastSnapshot string
	position     int // Absolute offset of the consumed stream
}

// Monitor polls one instance's output until a signal matches or the
// deadline elapses. It emits exactly one terminal event and never polls
// again afterwards; Stop is idempotent.
type Monitor struct {
	reader     OutputReader
	classifier *Classifier
	instanceID string
	cfg        Config
	logger     *slog.Logger

	mu           sync.Mutex
	buf          strings.Builder
	trimmed      int // Bytes dropped from the front of the buffer
	lastSnapshot string
	offsets      map[string]int // Per-signal last-matched absolute offset

	events   chan Event
	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a monitor for one wait. Call Start to begin polling.
func New(reader OutputReader, classifier *Classifier, instanceID string, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16 * 1024
	}
	if cfg.ReadLines <= 0 {
		cfg.ReadLines = 50
	}
	return &Monitor{
		reader:     reader,
		classifier: classifier,
		instanceID: instanceID,
		cfg:        cfg,
		logger:     logger,
		offsets:    make(map[string]int),
		events:     make(chan Event, 1),
		stop:       make(chan struct{}),
	}
}

// Resume seeds the monitor from an earlier wait's checkpoint on the
// same instance. Call before Start; a nil state is a no-op.
func (m *Monitor) Resume(s *State) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSnapshot = s.lastSnapshot
	m.trimmed = s.position
}

// Checkpoint captures the monitor's position for a later wait.
func (m *Monitor) Checkpoint() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &State{
		lastSnapshot: m.lastSnapshot,
		position:     m.trimmed + m.buf.Len(),
	}
}

// Start launches the polling loop and returns the event channel. The
// channel delivers at most one event and is closed afterwards; it is
// also closed without an event if the context is cancelled or Stop is
// called first.
func (m *Monitor) Start(ctx context.Context) <-chan Event {
	go m.loop(ctx)
	return m.events
}

// Stop cancels the wait. Idempotent; a monitor that already emitted its
// terminal event is unaffected.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Buffer returns the current rolling buffer contents, used for
// diagnostics when a run fails.
func (m *Monitor) Buffer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.String()
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.events)

	deadline := time.Now().Add(m.cfg.Timeout)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	// Poll immediately so short waits don't lose a full interval.
	for {
		if event, done := m.poll(ctx, deadline); done {
			m.events <- event
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
		}
	}
}

// poll pulls new output, folds it into the rolling buffer, and scans
// each signal from its last-matched offset.
func (m *Monitor) poll(ctx context.Context, deadline time.Time) (Event, bool) {
	snapshot, err := m.reader.Read(ctx, m.instanceID, m.cfg.ReadLines)
	if err != nil {
		m.logger.Debug("monitor read failed", "instance", m.instanceID, "error", err)
	} else {
		m.ingest(snapshot)
	}

	m.mu.Lock()
	buffer := m.buf.String()
	trimmed := m.trimmed
	m.mu.Unlock()

	for _, signal := range m.cfg.Signals {
		from := m.offsets[signal] - trimmed
		if from < 0 {
			from = 0
		}
		if match, matched := m.classifier.Scan(buffer, signal, from); matched {
			m.offsets[signal] = trimmed + match.Offset
			m.logger.Debug("signal matched",
				"instance", m.instanceID, "signal", signal, "line", match.Line)
			return Event{Kind: EventMatched, Signal: signal, Snippet: match.Line}, true
		}
	}

	if m.cfg.Timeout > 0 && time.Now().After(deadline) {
		return Event{Kind: EventTimedOut}, true
	}
	return Event{}, false
}

// ingest appends the unseen suffix of a pane snapshot to the rolling
// buffer. Successive capture calls overlap heavily, so only the text
// beyond the longest overlap with the previous snapshot is new.
func (m *Monitor) ingest(snapshot string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if snapshot == "" || snapshot == m.lastSnapshot {
		return
	}

	delta := newSuffix(m.lastSnapshot, snapshot)
	m.lastSnapshot = snapshot
	if delta == "" {
		return
	}

	if m.buf.Len() > 0 && !strings.HasSuffix(m.buf.String(), "\n") {
		m.buf.WriteString("\n")
	}
	m.buf.WriteString(delta)

	// Cap the buffer, dropping the oldest text. Offsets are absolute,
	// so trimmed tracks how much has been dropped.
	if over := m.buf.Len() - m.cfg.BufferSize; over > 0 {
		kept := m.buf.String()[over:]
		m.buf.Reset()
		m.buf.WriteString(kept)
		m.trimmed += over
	}
}

// newSuffix returns the part of curr that extends past the longest
// suffix of prev appearing as a prefix of curr.
func newSuffix(prev, curr string) string {
	if prev == "" {
		return curr
	}
	max := len(prev)
	if len(curr) < max {
		max = len(curr)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(prev, curr[:n]) {
			return curr[n:]
		}
	}
	return curr
}
