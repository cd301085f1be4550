package sched

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"nse-signal-engine/market"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INTRADAY SCHEDULER - IST wall-clock job table
// ═══════════════════════════════════════════════════════════════════════════════
//
// The trading day is a fixed calendar: news at 08:30, brief at 08:45,
// scanning from 09:15, range lock at 09:45, cutoff at 14:30, mandatory
// exit at 15:15, shutdown at 15:35. Each registered job fires once per
// day when the IST clock reaches its mark; a coarse ticker polls the
// table, so firing is accurate to the poll interval, not the second.
//
// A process started mid-day does NOT replay the marks already behind it.
// Start marks those jobs as done for today; crash recovery owns whatever
// catch-up is needed.
//
// ═══════════════════════════════════════════════════════════════════════════════

const pollInterval = 15 * time.Second

// Job is one wall-clock entry. Weekday nil means every day. Trading-day
// jobs are skipped silently on weekends and exchange holidays.
type Job struct {
	Name           string
	At             string // "HH:MM" IST
	Weekday        *time.Weekday
	TradingDayOnly bool
	Run            func()
}

// On is a convenience for weekday-pinned jobs (the Sunday rebalance).
func On(d time.Weekday) *time.Weekday { return &d }

type Scheduler struct {
	mu sync.Mutex

	cal     *market.Calendar
	jobs    []Job
	lastRun map[string]string // job name -> day it last fired

	running bool
	stopCh  chan struct{}
}

func New(cal *market.Calendar) *Scheduler {
	return &Scheduler{
		cal:     cal,
		lastRun: make(map[string]string),
	}
}

// Add registers jobs. Entries with an unparseable clock are rejected here
// rather than silently never firing.
func (s *Scheduler) Add(jobs ...Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range jobs {
		if _, err := market.ParseClock(j.At); err != nil {
			log.Error().Err(err).Str("job", j.Name).Msg("Job rejected: bad clock")
			continue
		}
		if j.Run == nil {
			log.Error().Str("job", j.Name).Msg("Job rejected: nil handler")
			continue
		}
		s.jobs = append(s.jobs, j)
	}
}

// Start begins polling the job table.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	jobs := len(s.jobs)
	s.mu.Unlock()

	s.markPast(time.Now().In(market.IST))

	go s.loop(stopCh)
	log.Info().Int("jobs", jobs).Msg("⏰ Scheduler started")
}

// Stop halts the polling loop. Registered jobs are kept.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	log.Info().Msg("Scheduler stopped")
}

// markPast flags every job already behind the clock as run for today, so
// a mid-day start does not replay the morning sequence.
func (s *Scheduler) markPast(now time.Time) {
	day := market.Day(now)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if market.AtOrAfterClock(now, j.At) {
			s.lastRun[j.Name] = day
		}
	}
}

func (s *Scheduler) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.fire(time.Now().In(market.IST))
		}
	}
}

// fire runs every job whose mark the clock has passed today. Jobs run
// sequentially on the scheduler goroutine; a panic in one is contained.
func (s *Scheduler) fire(now time.Time) {
	day := market.Day(now)

	s.mu.Lock()
	var due []Job
	for _, j := range s.jobs {
		if s.lastRun[j.Name] == day {
			continue
		}
		if j.Weekday != nil && now.Weekday() != *j.Weekday {
			continue
		}
		if !market.AtOrAfterClock(now, j.At) {
			continue
		}
		s.lastRun[j.Name] = day
		if j.TradingDayOnly && !s.cal.IsTradingDay(now) {
			continue
		}
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		log.Info().Str("job", j.Name).Str("at", j.At).Msg("⏰ Job firing")
		s.runOne(j)
	}
}

func (s *Scheduler) runOne(j Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("job", j.Name).Msg("Scheduled job panicked")
		}
	}()
	j.Run()
}
