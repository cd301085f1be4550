package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"nse-signal-engine/feeds"
	"nse-signal-engine/market"
	"nse-signal-engine/news"
	"nse-signal-engine/regime"
	"nse-signal-engine/risk"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - signal delivery & operator control
// ═══════════════════════════════════════════════════════════════════════════════
//
// The single human surface of the engine. Signals land here with inline
// TAKEN / SKIP / WATCH buttons; trade advisories carry their own action
// rows. The operator drives everything else with plain-text commands
// (TAKEN, STATUS, CAPITAL 150000, OVERRIDE CIRCUIT, ...) - no slash
// prefixes, case-insensitive. Messages from any chat but the configured
// one are dropped silently.
//
// ═══════════════════════════════════════════════════════════════════════════════

// EngineStatus is the narrow view of the scan engine the bot reports on.
type EngineStatus interface {
	Running() bool
	Halted() bool
	Accepting() bool
	Stats() map[string]any
}

// SettingsService is the operator-settings surface behind CAPITAL,
// ALLOCATE, PAUSE and RESUME.
type SettingsService interface {
	Snapshot() types.UserSettings
	SetCapital(amount decimal.Decimal) error
	SetAllocations(gapPct, orbPct, vwapPct float64) error
	SetPaused(strategy string, paused bool) error
	Rebalance(now time.Time) (gapPct, orbPct, vwapPct float64, err error)
}

// FeedStatus is the broker feed health view for STATUS.
type FeedStatus interface {
	Connected() bool
	Stats() map[string]any
}

// Deps bundles everything the bot reads and drives.
type Deps struct {
	DB         *storage.Database
	Store      *market.Store
	Settings   SettingsService
	Engine     EngineStatus
	Feed       FeedStatus
	Circuit    *risk.CircuitBreaker
	Adaptive   *risk.AdaptiveManager
	Exits      *risk.ExitMonitor
	Gate       *news.Gate
	Classifier *regime.Classifier
	Quotes     *feeds.QuoteClient
	VIXToken   string
}

// Callback data prefixes on inline buttons.
const (
	cbTaken      = "taken"
	cbSkip       = "skip"
	cbWatch      = "watch"
	cbBookT1     = "book_t1"
	cbExitAtT2   = "exit_t2"
	cbExitNow    = "exit_now"
	cbHold       = "hold"
	cbTakeProfit = "take_profit"
	cbLetRun     = "let_run"
)

const overrideConfirmWindow = 60 * time.Second

type TelegramBot struct {
	mu      sync.Mutex
	api     *tgbotapi.BotAPI
	chatID  int64
	deps    Deps
	running bool
	stopCh  chan struct{}

	// OVERRIDE CIRCUIT arms a YES confirmation with a short fuse.
	overrideArmedUntil time.Time
}

// New connects to the Telegram API. The bot does not poll until Start.
func New(token string, chatID int64, deps Deps) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return &TelegramBot{api: api, chatID: chatID, deps: deps, stopCh: make(chan struct{})}, nil
}

// SetEngine wires the scan engine after construction; the engine is built
// with the bot as its deliverer, so one of the two has to come second.
func (b *TelegramBot) SetEngine(e EngineStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deps.Engine = e
}

// Start begins the update loop.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	stopCh := b.stopCh
	b.mu.Unlock()

	go b.updateLoop(stopCh)
	log.Info().Msg("📱 Telegram bot started")
}

// Stop halts the update loop.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	b.api.StopReceivingUpdates()
	log.Info().Msg("Telegram bot stopped")
}

func (b *TelegramBot) updateLoop(stopCh chan struct{}) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-stopCh:
			return
		case update := <-updates:
			switch {
			case update.CallbackQuery != nil:
				if update.CallbackQuery.Message == nil ||
					update.CallbackQuery.Message.Chat.ID != b.chatID {
					continue
				}
				b.handleCallback(update.CallbackQuery)
			case update.Message != nil:
				if update.Message.Chat.ID != b.chatID {
					continue
				}
				if reply := b.HandleCommand(update.Message.Text, time.Now().In(market.IST)); reply != "" {
					b.sendMarkdown(reply)
				}
			}
		}
	}
}

// ─── Signal delivery (core.SignalDeliverer) ────────────────────────────────────

// DeliverSignal pushes one final signal with its action buttons and returns
// the message id.
func (b *TelegramBot) DeliverSignal(sig types.FinalSignal, signalID uint, confirmation types.Confirmation, warnings []string) (int, error) {
	text := formatSignal(sig, signalID, confirmation, warnings)

	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if !sig.Paper {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ TAKEN", callbackData(cbTaken, signalID)),
				tgbotapi.NewInlineKeyboardButtonData("❌ SKIP", callbackData(cbSkip, signalID)),
				tgbotapi.NewInlineKeyboardButtonData("👁 WATCH", callbackData(cbWatch, signalID)),
			),
		)
	}

	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("deliver signal %s: %w", sig.Symbol, err)
	}
	return sent.MessageID, nil
}

// ─── Trade lifecycle alerts (risk.Alerter) ─────────────────────────────────────

// TradeAdvisory delivers breakeven / trailing / target / proximity alerts,
// with action buttons where the operator has a decision to make.
func (b *TelegramBot) TradeAdvisory(trade *storage.Trade, kind string, ltp decimal.Decimal) {
	text := formatAdvisory(trade, kind, ltp)

	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	switch kind {
	case risk.AdvisoryT1:
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Book 50% at T1", callbackData(cbBookT1, trade.ID)),
				tgbotapi.NewInlineKeyboardButtonData("Exit Remaining at T2", callbackData(cbExitAtT2, trade.ID)),
			),
		)
	case risk.AdvisorySLApproaching:
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Exit Now", callbackData(cbExitNow, trade.ID)),
				tgbotapi.NewInlineKeyboardButtonData("Hold", callbackData(cbHold, trade.ID)),
			),
		)
	case risk.AdvisoryNearT2:
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Take Profit", callbackData(cbTakeProfit, trade.ID)),
				tgbotapi.NewInlineKeyboardButtonData("Let It Run", callbackData(cbLetRun, trade.ID)),
			),
		)
	}

	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Str("kind", kind).Uint("trade", trade.ID).Msg("Advisory send failed")
	}
}

// TradeExit announces a closed trade.
func (b *TelegramBot) TradeExit(trade *storage.Trade, reason string, exitPrice, pnlAbs decimal.Decimal, pnlPct float64) {
	b.sendMarkdown(formatExit(trade, reason, exitPrice, pnlAbs, pnlPct))
}

// ─── Event alerts ──────────────────────────────────────────────────────────────

// SendCritical implements the scan engine's critical-alert hook.
func (b *TelegramBot) SendCritical(text string) {
	b.send(text)
}

// CircuitTripped announces the stop-out halt.
func (b *TelegramBot) CircuitTripped(slCount int) {
	b.sendMarkdown(fmt.Sprintf(
		"🚨 *CIRCUIT BREAKER TRIPPED*\n\n%d stop-losses hit today.\nNew signals halted; open trades stay monitored.\n\nSend `OVERRIDE CIRCUIT` to resume.",
		slCount))
}

// AdaptiveTransition announces a strategy mode change.
func (b *TelegramBot) AdaptiveTransition(strategy, from, to, reason string) {
	b.sendMarkdown(fmt.Sprintf("🔀 *%s*: %s → %s\n_%s_",
		types.StrategyDisplayName[strategy], from, to, reason))
}

// SendRecoveryNotice announces a mid-session restart.
func (b *TelegramBot) SendRecoveryNotice(openTrades int, accepting bool) {
	state := "new signals enabled"
	if !accepting {
		state = "past signal cutoff, exits only"
	}
	b.sendMarkdown(fmt.Sprintf(
		"♻️ *ENGINE RECOVERED*\n\nRe-attached %d open trade(s); %s.", openTrades, state))
}

// SendPreMarketAlert is the 09:00 heads-up.
func (b *TelegramBot) SendPreMarketAlert(now time.Time) {
	b.sendMarkdown("🔔 *PRE-MARKET*\n\nMarket opens 09:15 IST. Scanning starts at the bell.")
}

// SendMorningBrief renders the 08:45 brief (also the MORNING command).
func (b *TelegramBot) SendMorningBrief(now time.Time) {
	b.sendMarkdown(b.buildMorningBrief(now))
}

// SendDailySummary renders the 15:30 session report.
func (b *TelegramBot) SendDailySummary(now time.Time) {
	day := market.Day(now)
	summary, err := b.deps.DB.GetDaySummary(day)
	if err != nil {
		log.Error().Err(err).Msg("Day summary failed")
		return
	}
	perf, _ := b.deps.DB.GetStrategyPerformance(day)
	b.sendMarkdown(formatDailySummary(summary, perf))
}

// ─── Inline button handling ────────────────────────────────────────────────────

func (b *TelegramBot) handleCallback(cb *tgbotapi.CallbackQuery) {
	// Acknowledge first so the button stops spinning.
	b.api.Request(tgbotapi.NewCallback(cb.ID, ""))

	action, id, err := parseCallbackData(cb.Data)
	if err != nil {
		log.Warn().Str("data", cb.Data).Msg("Unparseable callback")
		return
	}
	now := time.Now().In(market.IST)

	var reply string
	switch action {
	case cbTaken:
		reply = b.takeSignalByID(id, false, now)
	case cbSkip:
		reply = b.skipSignal(id)
	case cbWatch:
		reply = b.watchSignal(id, now)
	case cbBookT1:
		if err := b.deps.Exits.BookPartial(id, now); err != nil {
			reply = "❌ " + err.Error()
		} else {
			reply = "💰 Booked 50%. Remainder rides to T2 with SL at breakeven or better."
		}
	case cbExitAtT2:
		b.recordAction(id, "exit_at_t2", "holding remainder for T2")
		reply = "🎯 Holding for T2. Exit monitor stays on."
	case cbExitNow, cbTakeProfit:
		if err := b.deps.Exits.ManualExit(id, now); err != nil {
			reply = "❌ " + err.Error()
		}
		// Exit alert follows from the monitor; no extra reply needed.
	case cbHold, cbLetRun:
		b.recordAction(id, action, "operator chose to hold")
		reply = "👌 Holding."
	}

	if reply != "" {
		b.sendMarkdown(reply)
	}
}

func (b *TelegramBot) recordAction(tradeID uint, action, details string) {
	trade, err := b.deps.DB.GetTrade(tradeID)
	if err != nil {
		return
	}
	b.deps.DB.InsertAction(&storage.SignalAction{
		SignalID: trade.SignalID,
		Symbol:   trade.Symbol,
		Action:   action,
		Details:  details,
	})
}

// ─── Signal actions shared by buttons and TAKEN/SKIP commands ──────────────────

// takeSignalByID converts a signal into a monitored trade.
func (b *TelegramBot) takeSignalByID(signalID uint, force bool, now time.Time) string {
	sig, err := b.deps.DB.GetSignal(signalID)
	if err != nil {
		return fmt.Sprintf("❌ Signal %d not found", signalID)
	}
	return b.takeSignal(sig, force, now)
}

func (b *TelegramBot) takeSignal(sig *storage.Signal, force bool, now time.Time) string {
	switch sig.Status {
	case types.SignalStatusTaken:
		return fmt.Sprintf("Signal %d is already taken", sig.ID)
	case types.SignalStatusExpired:
		return "Signal has expired"
	case types.SignalStatusSkipped:
		if !force {
			return fmt.Sprintf("Signal %d was skipped. Use `TAKEN FORCE %d` to take it anyway.", sig.ID, sig.ID)
		}
	case types.SignalStatusSent, types.SignalStatusPaper:
	default:
		return fmt.Sprintf("Signal %d is not actionable (%s)", sig.ID, sig.Status)
	}
	if sig.Status == types.SignalStatusSent && now.After(sig.ExpiresAt) && !force {
		return "Signal has expired"
	}

	paper := sig.Status == types.SignalStatusPaper
	if !paper && !force {
		count, err := b.deps.DB.GetActiveTradeCount()
		if err != nil {
			return "❌ Could not verify open positions, try again"
		}
		if count >= b.deps.Settings.Snapshot().MaxPositions {
			b.deps.DB.UpdateSignalStatus(sig.ID, types.SignalStatusPositionFull)
			return fmt.Sprintf("❌ Position limit reached (%d open). Use `TAKEN FORCE %d` to override.", count, sig.ID)
		}
	}

	trade := &storage.Trade{
		SignalID:        sig.ID,
		Date:            market.Day(now),
		Symbol:          sig.Symbol,
		Strategy:        sig.Strategy,
		Entry:           sig.Entry,
		StopLoss:        sig.StopLoss,
		InitialStopLoss: sig.StopLoss,
		Target1:         sig.Target1,
		Target2:         sig.Target2,
		Quantity:        sig.Quantity,
		Paper:           paper,
		HighestPrice:    sig.Entry,
		Status:          "open",
		OpenedAt:        now,
	}
	if _, err := b.deps.DB.InsertTrade(trade); err != nil {
		return "❌ Trade record failed: " + err.Error()
	}
	if err := b.deps.DB.UpdateSignalStatus(sig.ID, types.SignalStatusTaken); err != nil {
		log.Warn().Err(err).Uint("signal", sig.ID).Msg("Signal status update failed")
	}
	b.deps.DB.InsertAction(&storage.SignalAction{SignalID: sig.ID, Symbol: sig.Symbol, Action: "taken"})

	b.deps.Exits.Attach(trade)

	tag := ""
	if paper {
		tag = " (paper)"
	}
	return fmt.Sprintf("✅ *%s* taken%s\n%d × %s | SL %s | T1 %s | T2 %s\nExit monitor is on.",
		sig.Symbol, tag, sig.Quantity, sig.Entry.StringFixed(2),
		sig.StopLoss.StringFixed(2), sig.Target1.StringFixed(2), sig.Target2.StringFixed(2))
}

func (b *TelegramBot) skipSignal(signalID uint) string {
	sig, err := b.deps.DB.GetSignal(signalID)
	if err != nil {
		return fmt.Sprintf("❌ Signal %d not found", signalID)
	}
	if sig.Status != types.SignalStatusSent {
		return fmt.Sprintf("Signal %d is not open (%s)", sig.ID, sig.Status)
	}
	if err := b.deps.DB.UpdateSignalStatus(sig.ID, types.SignalStatusSkipped); err != nil {
		return "❌ Skip failed: " + err.Error()
	}
	b.deps.DB.InsertAction(&storage.SignalAction{SignalID: sig.ID, Symbol: sig.Symbol, Action: "skipped"})
	return fmt.Sprintf("❌ *%s* skipped", sig.Symbol)
}

func (b *TelegramBot) watchSignal(signalID uint, now time.Time) string {
	sig, err := b.deps.DB.GetSignal(signalID)
	if err != nil {
		return fmt.Sprintf("❌ Signal %d not found", signalID)
	}
	note := fmt.Sprintf("signal @ %s", sig.Entry.StringFixed(2))
	if err := b.deps.DB.AddWatch(market.Day(now), sig.Symbol, sig.Strategy, note); err != nil {
		return "❌ Watchlist write failed: " + err.Error()
	}
	b.deps.DB.InsertAction(&storage.SignalAction{SignalID: sig.ID, Symbol: sig.Symbol, Action: "watch"})
	return fmt.Sprintf("👁 *%s* added to watchlist", sig.Symbol)
}

// ─── Send helpers ──────────────────────────────────────────────────────────────

func (b *TelegramBot) send(text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(b.chatID, text)); err != nil {
		log.Error().Err(err).Msg("Telegram send failed")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Telegram send failed")
	}
}

// callbackData packs "action:id".
func callbackData(action string, id uint) string {
	return fmt.Sprintf("%s:%d", action, id)
}

// parseCallbackData splits "action:id".
func parseCallbackData(data string) (string, uint, error) {
	idx := strings.LastIndex(data, ":")
	if idx <= 0 {
		return "", 0, fmt.Errorf("malformed callback %q", data)
	}
	var id uint
	if _, err := fmt.Sscanf(data[idx+1:], "%d", &id); err != nil {
		return "", 0, fmt.Errorf("malformed callback id %q", data)
	}
	return data[:idx], id, nil
}
