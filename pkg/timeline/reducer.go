package timeline

import (
	"context"
	"log/slog"
	"sort"
)

// EvictionPolicy selects which sections survive when the ceiling is exceeded.
type EvictionPolicy string

const (
	// EvictLastTouched keeps the sections that most recently received an event.
	EvictLastTouched EvictionPolicy = "last_touched"
	// EvictInsertion keeps the most recently created sections.
	EvictInsertion EvictionPolicy = "insertion"
)

// Mode distinguishes live folding from historical replay. Replay mode
// reports unattributable events; live mode treats them as routine.
type Mode int

const (
	ModeLive Mode = iota
	ModeReplay
)

// Config tunes a Reducer. Zero values take the defaults.
type Config struct {
	MaxSections      int
	RetainSections   int
	Eviction         EvictionPolicy
	DiagnosticsLimit int
	Markers          []string
	Mode             Mode
	Estimate         SizeEstimator
	Logger           *slog.Logger
}

// DefaultConfig returns the built-in reducer settings.
func DefaultConfig() Config {
	return Config{
		MaxSections:      50,
		RetainSections:   20,
		Eviction:         EvictLastTouched,
		DiagnosticsLimit: 100,
		Markers:          DefaultMarkers,
		Mode:             ModeLive,
		Estimate:         EstimateSize,
	}
}

// ApplyResult summarizes one Apply call.
type ApplyResult struct {
	Folded  int
	Reset   bool
	Evicted int
	Dropped int
}

// Reducer folds event collections into Sessions. A Reducer holds no
// per-session state and may be shared; each Session needs a single writer.
type Reducer struct {
	cfg     Config
	builder *builder
	logger  *slog.Logger
}

// NewReducer creates a Reducer, filling unset fields from DefaultConfig.
func NewReducer(cfg Config) *Reducer {
	def := DefaultConfig()
	if cfg.MaxSections <= 0 {
		cfg.MaxSections = def.MaxSections
	}
	if cfg.RetainSections <= 0 || cfg.RetainSections > cfg.MaxSections {
		cfg.RetainSections = min(def.RetainSections, cfg.MaxSections)
	}
	if cfg.Eviction == "" {
		cfg.Eviction = def.Eviction
	}
	if cfg.DiagnosticsLimit <= 0 {
		cfg.DiagnosticsLimit = def.DiagnosticsLimit
	}
	if cfg.Markers == nil {
		cfg.Markers = def.Markers
	}
	if cfg.Estimate == nil {
		cfg.Estimate = def.Estimate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reducer{
		cfg:     cfg,
		builder: &builder{cleaner: NewCleaner(cfg.Markers)},
		logger:  logger,
	}
}

// Apply folds the unseen suffix of events into s. Calling it again with the
// same or an append-grown collection only folds what is new. A collection
// shorter than the cursor is a replacement history: s is cleared and the
// whole collection is folded from scratch.
func (r *Reducer) Apply(s *Session, events []Event) ApplyResult {
	var res ApplyResult
	if len(events) < s.cursor {
		s.reset()
		res.Reset = true
	}

	for _, ev := range events[s.cursor:] {
		if !r.fold(s, ev) {
			res.Dropped++
		}
		s.approxBytes += r.cfg.Estimate(ev)
		s.cursor++
		res.Folded++
		res.Evicted += r.enforceBound(s)
	}
	return res
}

// fold applies one event and reports whether it landed anywhere.
func (r *Reducer) fold(s *Session, ev Event) bool {
	switch p := ev.Payload.(type) {
	case *SubagentStart:
		return r.startSubagent(s, ev, p)
	case *SubagentEnd:
		return r.endSubagent(s, ev, p)
	case *Other, nil:
		return true
	}

	if targets, routed := s.subagentTargets(ev); routed {
		if len(targets) == 0 {
			r.diagnose(s, ev, ReasonUnknownSubagent, ev.Route.SubagentRunID)
			return false
		}
		applied := false
		for _, ss := range targets {
			ss.Events = append(ss.Events, ev)
			if reason := r.builder.apply(&ss.Timeline, ev); reason != "" {
				r.diagnose(s, ev, reason, ss.RunID)
				continue
			}
			applied = true
		}
		return applied
	}

	sec := s.resolve(ev)
	if sec == nil {
		if r.cfg.Mode == ModeReplay {
			r.diagnose(s, ev, ReasonUnattributed, UnattributedKey)
		}
		return false
	}
	s.touch(sec)

	if id := ev.Route.RunID; id != "" {
		switch ev.Kind() {
		case KindChainStart, KindToolPreparing, KindToolStart:
			s.runOwner[id] = sec.Key
		}
	}
	if reason := r.builder.apply(sec, ev); reason != "" {
		r.diagnose(s, ev, reason, sec.Key)
		return false
	}
	return true
}

func (r *Reducer) startSubagent(s *Session, ev Event, p *SubagentStart) bool {
	id := subagentID(ev.Route)
	if id == "" {
		r.diagnose(s, ev, ReasonMissingRunID, "subagent start")
		return false
	}
	if ss, ok := s.subagents[id]; ok {
		ss.Events = append(ss.Events, ev)
		return true
	}

	label := p.Name
	if label == "" {
		label = "subagent"
	}
	ss := &SubagentSession{
		RunID:        id,
		Label:        label,
		ParentRunID:  ev.Route.ParentRunID,
		ParentLabel:  ev.Route.AgentLabel,
		Status:       SubagentRunning,
		InputPreview: preview(p.Input),
		Events:       []Event{ev},
		Timeline:     *newSection(id, label, "", ev.Timestamp),
		StartedAt:    ev.Timestamp,
	}
	s.subagents[id] = ss
	s.subagentOrder = append(s.subagentOrder, id)
	return true
}

func (r *Reducer) endSubagent(s *Session, ev Event, p *SubagentEnd) bool {
	id := subagentID(ev.Route)
	ss, ok := s.subagents[id]
	if !ok {
		r.diagnose(s, ev, ReasonUnknownSubagent, id)
		return false
	}
	ss.Events = append(ss.Events, ev)
	if ss.Terminal() {
		return true
	}

	status := SubagentCompleted
	if !p.Success {
		status = SubagentError
		ss.Error = p.Error
		if ss.Error == "" {
			ss.Error = p.Output
		}
	}
	ss.OutputPreview = preview(p.Output)
	finishSubagent(ss, status, ev.Timestamp)
	return true
}

// subagentID is the id a subagent lifecycle event refers to. Producers put it
// in subagent_run_id; older ones only set run_id.
func subagentID(r Route) string {
	if r.SubagentRunID != "" {
		return r.SubagentRunID
	}
	return r.RunID
}

// subagentTargets implements nested routing for non-lifecycle events. routed
// is true when the event must not reach the top-level sections; targets may
// then be empty when the owning subagent is unknown.
func (s *Session) subagentTargets(ev Event) (targets []*SubagentSession, routed bool) {
	r := ev.Route
	if r.SubagentRunID != "" {
		if ss, ok := s.subagents[r.SubagentRunID]; ok {
			return []*SubagentSession{ss}, true
		}
		return s.parentMatches(r.ParentRunID), true
	}
	if r.ParentRunID == "" {
		return nil, false
	}
	if targets = s.parentMatches(r.ParentRunID); len(targets) > 0 {
		return targets, true
	}
	return nil, false
}

// parentMatches is the legacy fallback: every subagent whose own id or
// parent id equals parentRunID.
func (s *Session) parentMatches(parentRunID string) []*SubagentSession {
	if parentRunID == "" {
		return nil
	}
	var out []*SubagentSession
	for _, id := range s.subagentOrder {
		ss := s.subagents[id]
		if ss.RunID == parentRunID || ss.ParentRunID == parentRunID {
			out = append(out, ss)
		}
	}
	return out
}

// enforceBound evicts sections once the ceiling is exceeded, keeping the
// retention floor.
func (r *Reducer) enforceBound(s *Session) int {
	if len(s.sections) <= r.cfg.MaxSections {
		return 0
	}

	ranked := make([]*AgentSection, 0, len(s.order))
	position := make(map[string]int, len(s.order))
	for i, key := range s.order {
		ranked = append(ranked, s.sections[key])
		position[key] = i
	}
	if r.cfg.Eviction == EvictInsertion {
		sort.SliceStable(ranked, func(i, j int) bool {
			return position[ranked[i].Key] > position[ranked[j].Key]
		})
	} else {
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].touched > ranked[j].touched
		})
	}

	evicted := make(map[string]bool, len(ranked)-r.cfg.RetainSections)
	for _, sec := range ranked[r.cfg.RetainSections:] {
		evicted[sec.Key] = true
	}
	s.evict(evicted)

	r.logger.Debug("Evicted timeline sections",
		"evicted", len(evicted),
		"retained", len(s.sections),
		"policy", r.cfg.Eviction)
	return len(evicted)
}

func (r *Reducer) diagnose(s *Session, ev Event, reason, detail string) {
	d := Diagnostic{Sequence: ev.Sequence, Kind: ev.Kind(), Reason: reason, Detail: detail}
	s.diagnostics = append(s.diagnostics, d)
	if over := len(s.diagnostics) - r.cfg.DiagnosticsLimit; over > 0 {
		s.diagnostics = append(s.diagnostics[:0], s.diagnostics[over:]...)
	}

	level := slog.LevelDebug
	if r.cfg.Mode == ModeReplay {
		level = slog.LevelWarn
	}
	r.logger.Log(context.Background(), level, "Dropped execution event",
		"sequence", ev.Sequence,
		"kind", ev.Kind(),
		"reason", reason,
		"detail", detail)
}
