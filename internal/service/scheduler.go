package service

import (
	"sync"
	"time"

	"mafia_web/internal/models"
)

// Clock 抽象時間來源，測試時以手動推進的時鐘取代
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// PhaseDelays 不由房間設定決定的固定等待時間
type PhaseDelays struct {
	Starting     time.Duration
	VotingResult time.Duration
}

func DefaultPhaseDelays() PhaseDelays {
	return PhaseDelays{
		Starting:     3 * time.Second,
		VotingResult: 5 * time.Second,
	}
}

// PhaseScheduler 管理單一房間的階段截止時間與計時器。
// 截止時間以絕對時間保存，重新排程時由截止時間計算剩餘時間，不會累積誤差。
type PhaseScheduler struct {
	clock    Clock
	settings models.Settings
	delays   PhaseDelays
	onExpire func(phase models.Phase, generation uint64)

	mu         sync.Mutex
	timer      Timer
	phase      models.Phase
	deadline   time.Time
	generation uint64
	stopped    bool
}

func NewPhaseScheduler(clock Clock, settings models.Settings, delays PhaseDelays, onExpire func(models.Phase, uint64)) *PhaseScheduler {
	if clock == nil {
		clock = realClock{}
	}
	return &PhaseScheduler{
		clock:    clock,
		settings: settings,
		delays:   delays,
		onExpire: onExpire,
	}
}

// Duration 回傳階段的持續時間，沒有計時器的階段回傳 0
func (s *PhaseScheduler) Duration(phase models.Phase) time.Duration {
	switch phase {
	case models.PhaseStarting:
		return s.delays.Starting
	case models.PhaseNight:
		return time.Duration(s.settings.NightDuration) * time.Second
	case models.PhaseDay:
		return time.Duration(s.settings.DayDuration) * time.Second
	case models.PhaseVoting:
		return time.Duration(s.settings.VotingDuration) * time.Second
	case models.PhaseVotingResult:
		return s.delays.VotingResult
	}
	return 0
}

// DeadlineFor 計算從 from 開始進入 phase 時的截止時間
func (s *PhaseScheduler) DeadlineFor(phase models.Phase, from time.Time) time.Time {
	d := s.Duration(phase)
	if d == 0 {
		return time.Time{}
	}
	return from.Add(d)
}

// Arm 以截止時間為 phase 排程，取代先前的計時器。deadline 為零值時只取消。
func (s *PhaseScheduler) Arm(phase models.Phase, deadline time.Time) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
	s.phase = phase
	s.deadline = deadline
	if s.stopped || deadline.IsZero() {
		return s.generation
	}

	gen := s.generation
	delay := deadline.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.timer = s.clock.AfterFunc(delay, func() {
		s.onExpire(phase, gen)
	})
	return gen
}

// Current 檢查 generation 是否仍是最新的排程
func (s *PhaseScheduler) Current(phase models.Phase, generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped && s.generation == generation && s.phase == phase
}

func (s *PhaseScheduler) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Cancel 永久停止計時器，之後的 Arm 不再排程
func (s *PhaseScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.generation++
	s.deadline = time.Time{}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *PhaseScheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
