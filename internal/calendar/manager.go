package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/aggregator"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/config"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/lifecycle"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/logging"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/metrics"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/reschedule"
)

type Deps struct {
	Aggregator *aggregator.Aggregator
	Machine    *lifecycle.Machine
	Patcher    reschedule.Patcher
	Settings   Settings
	Metrics    *metrics.Collector
	Calendar   config.CalendarConfig
	// PatchTimeout bounds background reschedule patches.
	PatchTimeout time.Duration
	Now          func() time.Time
}

// Manager hands out one Session per organization.
type Manager struct {
	deps     Deps
	firstDay time.Weekday

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps) (*Manager, error) {
	firstDay, err := deps.Calendar.FirstWeekday()
	if err != nil {
		return nil, err
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{deps: deps, firstDay: firstDay, sessions: make(map[string]*Session)}, nil
}

func (m *Manager) Session(orgID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[orgID]; ok {
		return s
	}
	log := logging.WithOrg(logging.Component("calendar"), orgID)
	s := &Session{
		orgID:    orgID,
		agg:      m.deps.Aggregator,
		machine:  m.deps.Machine,
		settings: m.deps.Settings,
		ctrl: reschedule.NewController(orgID, m.deps.Patcher,
			reschedule.WithConfirmer(m.deps.Machine),
			reschedule.WithMetrics(m.deps.Metrics),
			reschedule.WithPatchTimeout(m.deps.PatchTimeout),
		),
		firstDay:  m.firstDay,
		skew:      m.deps.Calendar.ClockSkew,
		defaultTZ: m.deps.Calendar.DefaultTimezone,
		now:       m.deps.Now,
		log:       log,
	}
	m.sessions[orgID] = s
	return s
}

// Wait blocks until every session's in-flight patches resolve.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
