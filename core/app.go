package core

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"nse-signal-engine/bot"
	"nse-signal-engine/dashboard"
	"nse-signal-engine/feeds"
	"nse-signal-engine/internal/config"
	"nse-signal-engine/market"
	"nse-signal-engine/news"
	"nse-signal-engine/regime"
	"nse-signal-engine/risk"
	"nse-signal-engine/sched"
	"nse-signal-engine/storage"
	"nse-signal-engine/strategy"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// APP - wiring, startup sequence, session lifecycle
// ═══════════════════════════════════════════════════════════════════════════════
//
// The process runs continuously. The IST scheduler owns the session
// lifecycle: fresh broker login and state reset at 09:15, signal cutoff at
// 14:30, exits through 15:15, summary and cleanup at 15:30. Starting
// mid-session on a trading day goes through crash recovery instead.
//
// ═══════════════════════════════════════════════════════════════════════════════

type App struct {
	cfg *config.Config

	db       *storage.Database
	redis    *redis.Client
	settings *SettingsManager

	store *market.Store
	cal   *market.Calendar

	session     *feeds.Session
	quotes      *feeds.QuoteClient
	feed        *feeds.BrokerFeed
	historical  *feeds.HistoricalFetcher
	instruments []types.Instrument

	registry *strategy.Registry
	gapGo    *strategy.GapGo
	gaps     *strategy.GapRegistry
	confirm  *ConfirmationDetector

	circuit  *risk.CircuitBreaker
	adaptive *risk.AdaptiveManager
	sizer    *risk.Sizer
	exits    *risk.ExitMonitor

	gate       *news.Gate
	earnings   *news.EarningsCalendar
	classifier *regime.Classifier
	cues       regime.CueProvider

	engine    *Engine
	bot       *bot.TelegramBot
	dash      *dashboard.Server
	scheduler *sched.Scheduler
}

func NewApp(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// Start wires and launches everything. Order matters: persistence and
// settings first, then broker auth and data, then the operator surfaces,
// and the scheduler last so no job fires into a half-built app.
func (a *App) Start() error {
	cfg := a.cfg
	now := time.Now().In(market.IST)

	// 1. Persistence
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	a.db = db

	// 2. Redis cache (optional)
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, caching disabled")
			a.redis = nil
		}
		cancel()
	}

	// 3. Operator settings
	settings, err := LoadSettings(db, storage.UserConfig{
		Capital:         cfg.DefaultCapital,
		MaxPositions:    cfg.DefaultMaxPositions,
		MaxRiskPct:      cfg.MaxRiskPct,
		SignalExpiryMin: cfg.SignalExpiryMin,
		GapAllocPct:     100.0 / 3,
		ORBAllocPct:     100.0 / 3,
		VWAPAllocPct:    100.0 / 3,
	})
	if err != nil {
		return err
	}
	a.settings = settings

	// 4. Market state
	a.store = market.NewStore()
	a.cal = market.NewCalendar()

	// 5. Broker session
	a.session = feeds.NewSession(cfg.BrokerBaseURL, feeds.Credentials{
		APIKey:     cfg.BrokerAPIKey,
		ClientCode: cfg.BrokerClientCode,
		Password:   cfg.BrokerPassword,
		TOTPSecret: cfg.BrokerTOTPSecret,
	}, cfg.AuthMaxRetries)
	if err := a.session.Login(); err != nil {
		return fmt.Errorf("broker login: %w", err)
	}
	a.quotes = feeds.NewQuoteClient(a.session)

	// 6. Universe
	loader := feeds.NewUniverseLoader(cfg.InstrumentMasterURL, cfg.ConstituentsPath, a.redis)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	instruments, err := loader.Load(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("universe load: %w", err)
	}
	a.instruments = instruments

	// 7. Historical references
	fallback := feeds.NewFallbackProvider(cfg.HistoricalFallbackURL)
	a.historical = feeds.NewHistoricalFetcher(a.session, fallback, a.cal, cfg.HistoricalConcurrency, cfg.HistoricalCooldown)
	loaded, failed := a.historical.LoadReferences(instruments, a.store)
	log.Info().Int("loaded", loaded).Int("failed", failed).Msg("📚 Historical references ready")

	// 8. Strategies
	a.gaps = strategy.NewGapRegistry()
	a.gapGo = strategy.NewGapGo(cfg.Gap)
	a.registry = strategy.NewRegistry(
		a.gapGo,
		strategy.NewORB(cfg.ORB, a.gaps),
		strategy.NewVWAPReversal(cfg.VWAP),
	)
	a.confirm = NewConfirmationDetector(time.Duration(cfg.ConfirmWindowMin) * time.Minute)

	// 9. Risk
	a.circuit = risk.NewCircuitBreaker(cfg.CircuitSLLimit, db)
	a.adaptive = risk.NewAdaptiveManager(risk.AdaptiveConfig{
		ConsecLossThrottle: cfg.ConsecutiveLossesThrottle,
		ConsecLossPause:    cfg.ConsecutiveLossesPause,
		WarnWinRatePct:     cfg.WinRateWarn5DPct,
		PauseWinRatePct:    cfg.WinRatePause10DPct,
		MinSample:          5,
	}, db)
	a.sizer = risk.NewSizer(risk.SizerConfig{
		ConfirmedDoubleCap: cfg.ConfirmedDoubleCap,
		ConfirmedTripleCap: cfg.ConfirmedTripleCap,
	})
	a.exits = risk.NewExitMonitor(risk.TrailingConfig{
		BreakevenTriggerPct: cfg.BreakevenTriggerPct,
		TrailTriggerPct:     cfg.TrailTriggerPct,
		TrailDistancePct:    cfg.TrailDistancePct,
	}, db, a.circuit, a.store)
	a.exits.SetCloseCallback(a.onTradeClosed)

	// 10. News gate and regime
	a.earnings = news.NewEarningsCalendar(cfg.NewsBaseURL, db)
	sentiment := news.NewClient(cfg.NewsBaseURL, cfg.NewsAPIKey, a.redis, cfg.SentimentTTL, db)
	a.gate = news.NewGate(cfg.NewsEnabled, cfg.EarningsBlackout, sentiment, a.earnings, db)
	a.classifier = regime.NewClassifier(db, cfg.RegimeEnabled)
	a.cues = regime.NewHTTPCueProvider(cfg.GlobalCuesURL)

	// 11. Feed + pipeline + engine
	a.feed = feeds.NewBrokerFeed(cfg.BrokerWSURL, cfg.WSConnectTimeout, a.session, instruments)

	scorer := NewCompositeScorer(ScorerWeights{
		Strategy: cfg.ScoreWeightStrategy,
		WinRate:  cfg.ScoreWeightWinRate,
		RR:       cfg.ScoreWeightRR,
		Confirm:  cfg.ScoreWeightConfirm,
	}, db)

	// 12. Telegram bot (needed as the pipeline's deliverer)
	tgBot, err := bot.New(cfg.TelegramToken, cfg.TelegramChatID, bot.Deps{
		DB:         db,
		Store:      a.store,
		Settings:   settings,
		Circuit:    a.circuit,
		Adaptive:   a.adaptive,
		Exits:      a.exits,
		Gate:       a.gate,
		Classifier: a.classifier,
		Quotes:     a.quotes,
		VIXToken:   cfg.VIXToken,
		Feed:       a.feed,
	})
	if err != nil {
		return err
	}
	a.bot = tgBot

	pipeline := NewPipeline(
		[]Stage{
			NewCircuitBreakerGate(a.circuit),
			NewRegimeContext(a.classifier),
			NewStrategyEval(a.registry, a.store),
			NewGapStockMarking(a.gapGo, a.gaps),
			NewDeduplication(db),
			NewConfirmation(a.confirm),
			NewCompositeScoring(scorer),
			NewAdaptiveFilter(a.adaptive),
			NewRanking(),
			NewNewsSentiment(a.gate),
			NewRiskSizing(a.sizer),
			NewPersistAndDeliver(db, a.sizer, tgBot),
		},
		[]Stage{
			NewExitMonitoring(a.exits),
		},
	)
	a.engine = NewEngine(a.store, pipeline, settings, db, a.feed, cfg.ScanInterval, cfg.MaxConsecutiveErrors)
	a.engine.SetAlerter(tgBot)

	// Late bot wiring: the engine reference did not exist at bot.New time.
	tgBot.SetEngine(a.engine)
	a.exits.SetAlerter(tgBot)
	a.circuit.SetTripCallback(tgBot.CircuitTripped)
	a.adaptive.SetTransitionCallback(tgBot.AdaptiveTransition)

	tgBot.Start()

	// 13. Dashboard
	a.dash = dashboard.New(cfg.DashboardHost, cfg.DashboardPort, dashboard.Deps{
		DB:         db,
		Engine:     a.engine,
		Feed:       a.feed,
		Circuit:    a.circuit,
		Adaptive:   a.adaptive,
		Exits:      a.exits,
		Classifier: a.classifier,
	})
	a.dash.Start()

	// 14. Scheduler
	a.scheduler = sched.New(a.cal)
	a.registerJobs()
	a.scheduler.Start()

	// 15. Crash recovery when restarted mid-session
	if a.cal.IsTradingDay(now) && market.AtOrAfterClock(now, "09:15") && market.BeforeClock(now, "15:30") {
		a.recoverSession(now)
	}

	log.Info().Int("universe", len(instruments)).Msg("🚀 Signal engine up")
	return nil
}

// registerJobs lays out the trading day.
func (a *App) registerJobs() {
	a.scheduler.Add(
		sched.Job{Name: "earnings_refresh", At: "08:30", TradingDayOnly: true, Run: a.refreshEarningsAndNews},
		sched.Job{Name: "morning_brief", At: "08:45", TradingDayOnly: true, Run: func() {
			a.bot.SendMorningBrief(time.Now().In(market.IST))
		}},
		sched.Job{Name: "pre_market_alert", At: "09:00", TradingDayOnly: true, Run: func() {
			a.bot.SendPreMarketAlert(time.Now().In(market.IST))
		}},
		sched.Job{Name: "session_start", At: "09:15", TradingDayOnly: true, Run: a.startSession},
		sched.Job{Name: "regime_classify", At: "09:30", TradingDayOnly: true, Run: a.classifyRegime},
		sched.Job{Name: "range_lock", At: "09:45", TradingDayOnly: true, Run: func() {
			locked := a.store.LockOpeningRanges()
			log.Info().Int("locked", locked).Msg("🔐 Opening ranges locked")
		}},
		sched.Job{Name: "regime_recheck_1", At: "11:00", TradingDayOnly: true, Run: a.classifyRegime},
		sched.Job{Name: "news_refresh_1", At: "11:15", TradingDayOnly: true, Run: a.refreshNews},
		sched.Job{Name: "regime_recheck_2", At: "13:00", TradingDayOnly: true, Run: a.classifyRegime},
		sched.Job{Name: "news_refresh_2", At: "13:15", TradingDayOnly: true, Run: a.refreshNews},
		sched.Job{Name: "signal_cutoff", At: "14:30", TradingDayOnly: true, Run: a.engine.StopAccepting},
		sched.Job{Name: "exit_reminder", At: "15:00", TradingDayOnly: true, Run: func() {
			if err := a.exits.TriggerTimeExit(false, time.Now().In(market.IST)); err != nil {
				log.Error().Err(err).Msg("Time-exit reminder failed")
			}
		}},
		sched.Job{Name: "mandatory_exit", At: "15:15", TradingDayOnly: true, Run: func() {
			if err := a.exits.TriggerTimeExit(true, time.Now().In(market.IST)); err != nil {
				log.Error().Err(err).Msg("Mandatory exit failed")
			}
		}},
		sched.Job{Name: "session_close", At: "15:30", TradingDayOnly: true, Run: a.closeSession},
		sched.Job{Name: "weekly_rebalance", At: "18:00", Weekday: sched.On(time.Sunday), Run: a.weeklyRebalance},
	)
}

// startSession is the 09:15 bell: fresh login, clean slate, loops on.
func (a *App) startSession() {
	now := time.Now().In(market.IST)
	log.Info().Str("day", market.Day(now)).Msg("🔔 Session start")

	// Broker tokens expire overnight.
	if err := a.session.Login(); err != nil {
		log.Error().Err(err).Msg("Session re-login failed")
		a.bot.SendCritical("🛑 Broker login failed at session start. Engine idle: " + err.Error())
		return
	}

	a.store.ClearSession()
	a.registry.ResetAll()
	a.gaps.Reset()
	a.confirm.Reset()
	a.sizer.ResetDaily(now)
	a.adaptive.ResetDaily(now)
	a.circuit.ResetDaily(now)
	a.classifier.ResetDaily()
	a.gate.ResetDaily()

	a.feed.Start()
	a.engine.StartAccepting()
	a.engine.Start()
}

// closeSession runs the 15:30 wrap-up; the process stays alive for the
// next trading day.
func (a *App) closeSession() {
	now := time.Now().In(market.IST)
	a.engine.Stop()
	a.feed.Stop()

	a.adaptive.EvaluateWinRates(now)
	a.bot.SendDailySummary(now)

	cutoff := market.Day(now.AddDate(0, 0, -30))
	if err := a.db.PurgeBefore(cutoff); err != nil {
		log.Warn().Err(err).Msg("Retention purge failed")
	}
	log.Info().Msg("🌙 Session closed")
}

// recoverSession resumes a crashed or restarted process mid-session.
func (a *App) recoverSession(now time.Time) {
	log.Warn().Str("phase", string(market.PhaseAt(now))).Msg("♻️ Mid-session start, recovering")

	day := market.Day(now)
	if slCount, err := a.db.CountSLHitsToday(day); err != nil {
		log.Error().Err(err).Msg("SL count recovery failed")
	} else {
		a.circuit.Restore(slCount, now)
	}

	recovered, err := a.exits.RecoverOpenTrades()
	if err != nil {
		log.Error().Err(err).Msg("Open trade recovery failed")
	}

	// The 09:45 range-lock job is already behind the clock and will not
	// replay; rebuild the true opening ranges from candle history instead.
	// Symbols the fetch misses stay unlocked, which keeps range breakouts
	// off for them rather than trading a range rebuilt from late ticks.
	if market.AtOrAfterClock(now, "09:45") {
		a.historical.LoadOpeningRanges(a.instruments, a.store, now)
	}

	a.feed.Start()
	accepting := market.BeforeClock(now, "14:30") && market.PhaseAt(now).SignalPhase()
	if accepting {
		a.engine.StartAccepting()
	}
	a.engine.Start()

	if market.AtOrAfterClock(now, "09:30") {
		a.classifyRegime()
	}
	a.refreshNews()

	a.bot.SendRecoveryNotice(recovered, accepting)
}

// classifyRegime assembles classifier inputs from index quotes and the
// external cues feed.
func (a *App) classifyRegime() {
	if !a.classifier.Enabled() {
		return
	}
	now := time.Now().In(market.IST)

	quotes, err := a.quotes.Fetch(a.cfg.VIXToken, a.cfg.NiftyToken)
	if err != nil {
		log.Error().Err(err).Msg("Regime quote fetch failed, skipping classification")
		return
	}
	vix := quotes[a.cfg.VIXToken]
	nifty := quotes[a.cfg.NiftyToken]

	in := regime.Inputs{VIX: vix.LTP.InexactFloat64()}
	if nifty.PrevClose.Sign() > 0 && nifty.Open.Sign() > 0 {
		in.NiftyGapPct = nifty.Open.Sub(nifty.PrevClose).Div(nifty.PrevClose).InexactFloat64() * 100
		in.NiftyRangePct = nifty.High.Sub(nifty.Low).Div(nifty.Open).InexactFloat64() * 100
		up := nifty.LTP.GreaterThanOrEqual(nifty.Open)
		in.RangeAligned = up == (in.NiftyGapPct >= 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if cues, err := a.cues.Fetch(ctx); err == nil {
		in.SPXChangePct = cues.SPXChangePct
		in.SGXPremiumPct = cues.SGXPremiumPct
		in.NetFlowsCrore = cues.NetFlowsCrore
	} else {
		log.Warn().Err(err).Msg("Global cues unavailable, classifying without them")
	}
	cancel()

	cls := a.classifier.Classify(in, now)
	log.Info().Str("label", cls.Label).Float64("confidence", cls.Confidence).Msg("🌐 Regime classified")
}

// refreshEarningsAndNews is the 08:30 pre-open fetch.
func (a *App) refreshEarningsAndNews() {
	now := time.Now().In(market.IST)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if n, err := a.earnings.Refresh(ctx, now); err != nil {
		log.Warn().Err(err).Msg("Earnings refresh failed")
	} else {
		log.Info().Int("events", n).Msg("📊 Earnings calendar refreshed")
	}
	a.gate.Refresh(ctx, a.symbols(), now)
}

// refreshNews re-pulls sentiment for the tracked universe mid-session.
func (a *App) refreshNews() {
	if !a.gate.Enabled() {
		return
	}
	now := time.Now().In(market.IST)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	a.gate.Refresh(ctx, a.symbols(), now)
}

// weeklyRebalance retunes allocations from rolling win rates every Sunday.
func (a *App) weeklyRebalance() {
	now := time.Now().In(market.IST)
	gap, orb, vwap, err := a.settings.Rebalance(now)
	if err != nil {
		log.Error().Err(err).Msg("Weekly rebalance failed")
		return
	}
	a.bot.SendCritical(fmt.Sprintf(
		"⚖️ Weekly rebalance done: GAP %.0f%% / ORB %.0f%% / VWAP %.0f%%", gap, orb, vwap))
}

// onTradeClosed folds a closed trade into the adaptive filter and the
// performance tallies.
func (a *App) onTradeClosed(trade *storage.Trade, reason string) {
	now := time.Now().In(market.IST)
	won := trade.PnLAbs.Sign() > 0

	if !trade.Paper {
		a.adaptive.RecordOutcome(trade.Strategy, won, now)
	}
	if err := a.db.RecordStrategyOutcome(trade.Date, trade.Strategy, false, won, trade.PnLAbs); err != nil {
		log.Warn().Err(err).Msg("Strategy outcome record failed")
	}

	// Regime attribution comes off the originating signal row.
	if sig, err := a.db.GetSignal(trade.SignalID); err == nil && sig.RegimeLabel != "" {
		if err := a.db.RecordRegimeOutcome(trade.Date, sig.RegimeLabel, trade.Strategy, won, trade.PnLAbs); err != nil {
			log.Warn().Err(err).Msg("Regime outcome record failed")
		}
	}
}

func (a *App) symbols() []string {
	out := make([]string, 0, len(a.instruments))
	for _, in := range a.instruments {
		out = append(out, in.Symbol)
	}
	return out
}

// Stop tears everything down in reverse dependency order.
func (a *App) Stop() {
	log.Info().Msg("Shutting down")
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.engine != nil {
		a.engine.Stop()
	}
	if a.feed != nil {
		a.feed.Stop()
	}
	if a.bot != nil {
		a.bot.Stop()
	}
	if a.dash != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.dash.Stop(ctx)
		cancel()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	log.Info().Msg("Shutdown complete")
}
