package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nse-signal-engine/market"
	"nse-signal-engine/news"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

// Operator commands: plain uppercase tokens, no slash prefix. Parsing is
// case-insensitive; symbols and strategy codes are uppercased anyway.

const helpText = "📖 *COMMANDS*\n" + sep + "\n" +
	"`TAKEN [FORCE] [id]` — log a signal as entered\n" +
	"`STATUS` — engine, feed, circuit, open trades\n" +
	"`JOURNAL` — today's signals and trades\n" +
	"`CAPITAL <amount>` — set trading capital\n" +
	"`PAUSE <GAP|ORB|VWAP>` / `RESUME <...>`\n" +
	"`ALLOCATE GAP <p> ORB <p> VWAP <p>` or `ALLOCATE AUTO`\n" +
	"`STRATEGY` — per-strategy state and performance\n" +
	"`SCORE <SYMBOL>` — today's score breakdown\n" +
	"`ADAPT` — adaptive filter state\n" +
	"`REBALANCE` — recompute allocations from win rates\n" +
	"`OVERRIDE CIRCUIT` — resume after a circuit trip\n" +
	"`WATCHLIST` / `UNWATCH <SYMBOL>`\n" +
	"`NEWS [SYMBOL|ALL]` / `UNSUPPRESS <SYMBOL>`\n" +
	"`EARNINGS` — next 7 days\n" +
	"`REGIME [HISTORY | OVERRIDE <label>]`\n" +
	"`VIX` — India VIX spot\n" +
	"`MORNING` — resend the morning brief\n"

// HandleCommand parses one operator message and returns the reply text
// (empty when there is nothing to say).
func (b *TelegramBot) HandleCommand(text string, now time.Time) string {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(text)))
	if len(fields) == 0 {
		return ""
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "TAKEN":
		return b.cmdTaken(args, now)
	case "SKIP":
		return b.cmdSkip(args, now)
	case "STATUS":
		return b.cmdStatus(now)
	case "JOURNAL":
		return b.cmdJournal(now)
	case "CAPITAL":
		return b.cmdCapital(args)
	case "PAUSE":
		return b.cmdPause(args, true)
	case "RESUME":
		return b.cmdPause(args, false)
	case "ALLOCATE":
		return b.cmdAllocate(args, now)
	case "STRATEGY":
		return b.cmdStrategy(now)
	case "SCORE":
		return b.cmdScore(args, now)
	case "ADAPT":
		return b.cmdAdapt(now)
	case "REBALANCE":
		return b.cmdRebalance(now)
	case "OVERRIDE":
		return b.cmdOverride(args, now)
	case "YES":
		return b.cmdConfirm(now)
	case "WATCHLIST":
		return b.cmdWatchlist()
	case "UNWATCH":
		return b.cmdUnwatch(args)
	case "NEWS":
		return b.cmdNews(args, now)
	case "EARNINGS":
		return b.cmdEarnings(now)
	case "UNSUPPRESS":
		return b.cmdUnsuppress(args, now)
	case "REGIME":
		return b.cmdRegime(args, now)
	case "VIX":
		return b.cmdVIX()
	case "MORNING":
		return b.buildMorningBrief(now)
	case "HELP":
		return helpText
	}
	return "Unknown command. Send `HELP` for the list."
}

// ─── TAKEN / SKIP ──────────────────────────────────────────────────────────────

func (b *TelegramBot) cmdTaken(args []string, now time.Time) string {
	force := false
	if len(args) > 0 && args[0] == "FORCE" {
		force = true
		args = args[1:]
	}

	if len(args) == 0 {
		sig, err := b.deps.DB.GetLatestActiveSignal(market.Day(now), now)
		if err != nil {
			return "No active signal to take."
		}
		return b.takeSignal(sig, force, now)
	}

	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return "Usage: `TAKEN [FORCE] [signal id]`"
	}
	return b.takeSignalByID(uint(id), force, now)
}

func (b *TelegramBot) cmdSkip(args []string, now time.Time) string {
	if len(args) == 0 {
		sig, err := b.deps.DB.GetLatestActiveSignal(market.Day(now), now)
		if err != nil {
			return "No active signal to skip."
		}
		return b.skipSignal(sig.ID)
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return "Usage: `SKIP [signal id]`"
	}
	return b.skipSignal(uint(id))
}

// ─── STATUS / JOURNAL ──────────────────────────────────────────────────────────

func (b *TelegramBot) cmdStatus(now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📡 *STATUS — %s IST*\n%s\n", now.Format("15:04:05"), sep)

	if b.deps.Engine == nil {
		return sb.String() + "Engine still starting up."
	}
	switch {
	case b.deps.Engine.Halted():
		sb.WriteString("🛑 Engine HALTED (repeated scan errors)\n")
	case !b.deps.Engine.Running():
		sb.WriteString("💤 Engine stopped\n")
	case b.deps.Engine.Accepting():
		sb.WriteString("🟢 Scanning, accepting signals\n")
	default:
		sb.WriteString("🟡 Scanning, exits only\n")
	}
	fmt.Fprintf(&sb, "Phase: %s\n", market.PhaseAt(now))

	if b.deps.Feed.Connected() {
		sb.WriteString("📶 Feed connected")
	} else {
		sb.WriteString("📵 Feed DOWN")
	}
	if stats := b.deps.Feed.Stats(); stats != nil {
		if n, ok := stats["ticks_received"]; ok {
			fmt.Fprintf(&sb, " | ticks %v", n)
		}
	}
	sb.WriteString("\n")

	if b.deps.Circuit.IsActive() {
		fmt.Fprintf(&sb, "🚨 Circuit ACTIVE (%d SLs). `OVERRIDE CIRCUIT` to resume.\n", b.deps.Circuit.SLCount())
	} else {
		fmt.Fprintf(&sb, "✅ Circuit clear (%d/%v SLs)\n", b.deps.Circuit.SLCount(), b.deps.Circuit.Stats()["limit"])
	}

	settings := b.deps.Settings.Snapshot()
	trades, _ := b.deps.DB.GetActiveTrades()
	fmt.Fprintf(&sb, "\n💼 Open %d/%d | Capital %s\n", len(trades), settings.MaxPositions, rupees(settings.Capital))
	for i := range trades {
		t := &trades[i]
		line := fmt.Sprintf("• %s %s @ %s", t.Symbol, t.Strategy, rupees(t.Entry))
		if tick, ok := b.deps.Store.GetTick(t.Symbol); ok {
			pnl := tick.LTP.Sub(t.Entry).Mul(decimal.NewFromInt(int64(t.Quantity)))
			line += fmt.Sprintf(" | LTP %s (%+.1f%%, %s)", rupees(tick.LTP), pctFrom(t.Entry, tick.LTP), rupees(pnl))
		}
		if t.Paper {
			line += " 📝"
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func (b *TelegramBot) cmdJournal(now time.Time) string {
	day := market.Day(now)
	summary, err := b.deps.DB.GetDaySummary(day)
	if err != nil {
		return "❌ Journal query failed: " + err.Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📓 *JOURNAL — %s*\n%s\n", day, sep)
	fmt.Fprintf(&sb, "Signals %d | Taken %d | Skipped %d | Expired %d\n\n",
		summary.Signals, summary.Taken, summary.Skipped, summary.Expired)

	trades, _ := b.deps.DB.GetTradesForDay(day)
	if len(trades) == 0 {
		sb.WriteString("No trades yet today.")
		return sb.String()
	}
	for i := range trades {
		t := &trades[i]
		if t.Status == "closed" {
			emoji := "🟢"
			if t.PnLAbs.Sign() < 0 {
				emoji = "🔴"
			}
			fmt.Fprintf(&sb, "%s %s (%s) %s → %s | %s (%+.2f%%) [%s]\n",
				emoji, t.Symbol, t.Strategy, rupees(t.Entry), rupees(t.ExitPrice),
				rupees(t.PnLAbs), t.PnLPct, t.ExitReason)
		} else {
			fmt.Fprintf(&sb, "⏳ %s (%s) open @ %s, SL %s\n",
				t.Symbol, t.Strategy, rupees(t.Entry), rupees(t.StopLoss))
		}
	}
	emoji := "🟢"
	if summary.PnLAbs.Sign() < 0 {
		emoji = "🔴"
	}
	fmt.Fprintf(&sb, "\n%s Net closed P&L %s", emoji, rupees(summary.PnLAbs))
	return sb.String()
}

// ─── Settings: CAPITAL / PAUSE / RESUME / ALLOCATE / REBALANCE ─────────────────

func (b *TelegramBot) cmdCapital(args []string) string {
	settings := b.deps.Settings.Snapshot()
	if len(args) == 0 {
		return fmt.Sprintf("💰 Capital: %s\nSet with `CAPITAL <amount>`.", rupees(settings.Capital))
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(args[0], ",", ""))
	if err != nil || amount.Sign() <= 0 {
		return "Usage: `CAPITAL 150000`"
	}
	if err := b.deps.Settings.SetCapital(amount); err != nil {
		return "❌ " + err.Error()
	}
	return fmt.Sprintf("💰 Capital updated: %s → %s", rupees(settings.Capital), rupees(amount))
}

func (b *TelegramBot) cmdPause(args []string, pause bool) string {
	verb := "RESUME"
	if pause {
		verb = "PAUSE"
	}
	if len(args) != 1 {
		return fmt.Sprintf("Usage: `%s <GAP|ORB|VWAP>`", verb)
	}
	code := args[0]
	if _, ok := types.StrategyDisplayName[code]; !ok {
		return fmt.Sprintf("Unknown strategy %q. Use GAP, ORB or VWAP.", code)
	}
	if err := b.deps.Settings.SetPaused(code, pause); err != nil {
		return "❌ " + err.Error()
	}
	if pause {
		return fmt.Sprintf("⏸ %s paused. `RESUME %s` to re-enable.", types.StrategyDisplayName[code], code)
	}
	return fmt.Sprintf("▶️ %s resumed.", types.StrategyDisplayName[code])
}

func (b *TelegramBot) cmdAllocate(args []string, now time.Time) string {
	settings := b.deps.Settings.Snapshot()
	if len(args) == 0 {
		return fmt.Sprintf("📊 Allocations: GAP %.0f%% / ORB %.0f%% / VWAP %.0f%%\n"+
			"Set with `ALLOCATE GAP 40 ORB 35 VWAP 25` or `ALLOCATE AUTO`.",
			settings.AllocationFor(types.StrategyGap),
			settings.AllocationFor(types.StrategyORB),
			settings.AllocationFor(types.StrategyVWAP))
	}
	if args[0] == "AUTO" {
		return b.cmdRebalance(now)
	}

	pcts, err := parseAllocationArgs(args)
	if err != nil {
		return "❌ " + err.Error()
	}
	if err := b.deps.Settings.SetAllocations(
		pcts[types.StrategyGap], pcts[types.StrategyORB], pcts[types.StrategyVWAP]); err != nil {
		return "❌ " + err.Error()
	}
	return fmt.Sprintf("📊 Allocations set: GAP %.0f%% / ORB %.0f%% / VWAP %.0f%%",
		pcts[types.StrategyGap], pcts[types.StrategyORB], pcts[types.StrategyVWAP])
}

// parseAllocationArgs reads "GAP 40 ORB 35 VWAP 25" pairs in any order.
func parseAllocationArgs(args []string) (map[string]float64, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("usage: `ALLOCATE GAP 40 ORB 35 VWAP 25`")
	}
	pcts := make(map[string]float64)
	for i := 0; i < len(args); i += 2 {
		code := args[i]
		if _, ok := types.StrategyDisplayName[code]; !ok {
			return nil, fmt.Errorf("unknown strategy %q", code)
		}
		pct, err := strconv.ParseFloat(args[i+1], 64)
		if err != nil || pct < 0 {
			return nil, fmt.Errorf("bad percentage %q for %s", args[i+1], code)
		}
		pcts[code] = pct
	}
	for _, code := range []string{types.StrategyGap, types.StrategyORB, types.StrategyVWAP} {
		if _, ok := pcts[code]; !ok {
			return nil, fmt.Errorf("missing %s percentage", code)
		}
	}
	total := pcts[types.StrategyGap] + pcts[types.StrategyORB] + pcts[types.StrategyVWAP]
	if total < 99.5 || total > 100.5 {
		return nil, fmt.Errorf("percentages sum to %.1f, need 100", total)
	}
	return pcts, nil
}

func (b *TelegramBot) cmdRebalance(now time.Time) string {
	gap, orb, vwap, err := b.deps.Settings.Rebalance(now)
	if err != nil {
		return "❌ Rebalance failed: " + err.Error()
	}
	return fmt.Sprintf("⚖️ Rebalanced from 10-day win rates:\nGAP %.0f%% / ORB %.0f%% / VWAP %.0f%%",
		gap, orb, vwap)
}

// ─── STRATEGY / SCORE / ADAPT ──────────────────────────────────────────────────

func (b *TelegramBot) cmdStrategy(now time.Time) string {
	settings := b.deps.Settings.Snapshot()
	perf, _ := b.deps.DB.GetStrategyPerformance(market.Day(now))
	perfBy := make(map[string]storage.StrategyPerformance, len(perf))
	for _, p := range perf {
		perfBy[p.Strategy] = p
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🧭 *STRATEGIES*\n%s\n", sep)
	for _, code := range []string{types.StrategyGap, types.StrategyORB, types.StrategyVWAP} {
		state := "🟢 active"
		switch {
		case settings.PausedStrategies[code]:
			state = "⏸ paused"
		case b.deps.Adaptive.Mode(code) != "NORMAL":
			state = "🔶 " + b.deps.Adaptive.Mode(code)
		}
		if settings.PaperStrategies[code] {
			state += " 📝 paper"
		}
		fmt.Fprintf(&sb, "*%s* (%s) — %s, %.0f%% alloc\n",
			types.StrategyDisplayName[code], code, state, settings.AllocationFor(code))
		if p, ok := perfBy[code]; ok {
			fmt.Fprintf(&sb, "  today: %d signals, %d taken, W%d/L%d, %s\n",
				p.Signals, p.Taken, p.Wins, p.Losses, rupees(p.PnLAbs))
		}
	}
	return sb.String()
}

func (b *TelegramBot) cmdScore(args []string, now time.Time) string {
	if len(args) != 1 {
		return "Usage: `SCORE <SYMBOL>`"
	}
	symbol := args[0]
	hs, err := b.deps.DB.GetHybridScore(symbol, market.Day(now))
	if err != nil {
		return fmt.Sprintf("No score recorded for %s today.", symbol)
	}
	return fmt.Sprintf("🧮 *%s* (%s) — composite %.1f %s\n%s\n"+
		"Strategy   %.1f × 40%%\nWin rate   %.1f × 25%%\nRisk:reward %.1f × 20%%\nConfirm    %.1f × 15%%",
		hs.Symbol, hs.Strategy, hs.Composite, stars(hs.Strength), sep,
		hs.StrategyScore, hs.WinRateScore, hs.RiskRewardScore, hs.ConfirmationBonus)
}

func (b *TelegramBot) cmdAdapt(now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔀 *ADAPTIVE FILTER*\n%s\n", sep)
	stats := b.deps.Adaptive.Stats()
	for _, code := range []string{types.StrategyGap, types.StrategyORB, types.StrategyVWAP} {
		st, ok := stats[code]
		if !ok {
			fmt.Fprintf(&sb, "*%s*: NORMAL (no trades yet)\n", code)
			continue
		}
		fmt.Fprintf(&sb, "*%s*: %v | streak %v losses\n", code, st["mode"], st["consecutive_losses"])
	}

	if logs, err := b.deps.DB.GetAdaptationsForDay(market.Day(now)); err == nil && len(logs) > 0 {
		sb.WriteString("\n*Today's transitions*\n")
		for _, l := range logs {
			fmt.Fprintf(&sb, "• %s %s→%s (%s)\n", l.Strategy, l.FromMode, l.ToMode, l.Reason)
		}
	}
	return sb.String()
}

// ─── OVERRIDE CIRCUIT + YES confirmation ───────────────────────────────────────

func (b *TelegramBot) cmdOverride(args []string, now time.Time) string {
	if len(args) != 1 || args[0] != "CIRCUIT" {
		return "Usage: `OVERRIDE CIRCUIT`"
	}
	if !b.deps.Circuit.IsActive() {
		return "Circuit breaker is not active."
	}
	b.mu.Lock()
	b.overrideArmedUntil = now.Add(overrideConfirmWindow)
	b.mu.Unlock()
	return fmt.Sprintf("⚠️ Circuit tripped after %d stop-losses. Overriding resumes signals for the rest of the day.\n\nReply `YES` within 60s to confirm.",
		b.deps.Circuit.SLCount())
}

func (b *TelegramBot) cmdConfirm(now time.Time) string {
	b.mu.Lock()
	armed := !b.overrideArmedUntil.IsZero() && now.Before(b.overrideArmedUntil)
	b.overrideArmedUntil = time.Time{}
	b.mu.Unlock()

	if !armed {
		return "Nothing pending to confirm."
	}
	b.deps.Circuit.Override(now)
	return "🔓 Circuit breaker overridden. Signals resume; SL count keeps accruing."
}

// ─── Watchlist / news / earnings / regime / VIX ────────────────────────────────

func (b *TelegramBot) cmdWatchlist() string {
	watches, err := b.deps.DB.GetWatchlist()
	if err != nil {
		return "❌ " + err.Error()
	}
	if len(watches) == 0 {
		return "👁 Watchlist is empty."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "👁 *WATCHLIST*\n%s\n", sep)
	for _, w := range watches {
		fmt.Fprintf(&sb, "• %s (%s, %s) — %s\n", w.Symbol, w.Strategy, w.Date, w.Note)
	}
	sb.WriteString("\nRemove with `UNWATCH <SYMBOL>`.")
	return sb.String()
}

func (b *TelegramBot) cmdUnwatch(args []string) string {
	if len(args) != 1 {
		return "Usage: `UNWATCH <SYMBOL>`"
	}
	removed, err := b.deps.DB.RemoveWatch(args[0])
	if err != nil {
		return "❌ " + err.Error()
	}
	if !removed {
		return fmt.Sprintf("%s is not on the watchlist.", args[0])
	}
	return fmt.Sprintf("👁 %s removed from watchlist.", args[0])
}

func (b *TelegramBot) cmdNews(args []string, now time.Time) string {
	day := market.Day(now)

	if len(args) == 1 && args[0] != "ALL" {
		symbol := args[0]
		s := b.deps.Gate.SentimentFor(symbol)
		if s.Level == "" || s.Level == news.NoNews {
			return fmt.Sprintf("📰 No news recorded for %s today.", symbol)
		}
		return fmt.Sprintf("📰 *%s*: %s\n%s", symbol, s.Level, s.Headline)
	}

	records, err := b.deps.DB.GetNewsForDay(day)
	if err != nil {
		return "❌ " + err.Error()
	}
	suppressed, _ := b.deps.DB.GetSuppressedToday(day)

	var sb strings.Builder
	fmt.Fprintf(&sb, "📰 *NEWS — %s*\n%s\n", day, sep)
	shown := 0
	for _, r := range records {
		if r.Sentiment == string(news.NoNews) || r.Sentiment == string(news.Neutral) {
			continue
		}
		fmt.Fprintf(&sb, "• %s: %s — %s\n", r.Symbol, r.Sentiment, r.Headline)
		shown++
	}
	if shown == 0 {
		sb.WriteString("No notable news today.\n")
	}
	if len(suppressed) > 0 {
		sb.WriteString("\n*Suppressed signals*\n")
		for _, s := range suppressed {
			fmt.Fprintf(&sb, "• %s (%s)\n", s.Symbol, s.Details)
		}
		sb.WriteString("Re-enable a symbol with `UNSUPPRESS <SYMBOL>`.")
	}
	return sb.String()
}

func (b *TelegramBot) cmdEarnings(now time.Time) string {
	from := market.Day(now)
	to := market.Day(now.AddDate(0, 0, 7))
	events, err := b.deps.DB.GetEarningsBetween(from, to)
	if err != nil {
		return "❌ " + err.Error()
	}
	if len(events) == 0 {
		return "📊 No tracked earnings in the next 7 days."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *EARNINGS — next 7 days*\n%s\n", sep)
	for _, e := range events {
		marker := ""
		if e.Date == from {
			marker = " ← today (blocked)"
		}
		fmt.Fprintf(&sb, "• %s — %s%s\n", e.Date, e.Symbol, marker)
	}
	return sb.String()
}

func (b *TelegramBot) cmdUnsuppress(args []string, now time.Time) string {
	if len(args) != 1 {
		return "Usage: `UNSUPPRESS <SYMBOL>`"
	}
	symbol := args[0]
	b.deps.Gate.Unsuppress(symbol, now)
	return fmt.Sprintf("🔓 %s news suppression lifted for today.", symbol)
}

func (b *TelegramBot) cmdRegime(args []string, now time.Time) string {
	if len(args) == 0 {
		cls, ok := b.deps.Classifier.Current()
		if !ok {
			return "🌐 No regime classified yet today."
		}
		tag := ""
		if cls.Overridden {
			tag = " (manual override)"
		}
		return fmt.Sprintf("🌐 *REGIME: %s*%s\nConfidence %.0f%%\n%s\n"+
			"Trending %.2f | Ranging %.2f | Volatile %.2f\nVIX %.2f | Nifty gap %+.2f%%\n"+
			"Min stars %d | Size modifier %.0f%%",
			cls.Label, tag, cls.Confidence*100, sep,
			cls.TrendingScore, cls.RangingScore, cls.VolatileScore,
			cls.VIX, cls.NiftyGapPct,
			cls.MinStarRating, cls.PositionModifier*100)
	}

	switch args[0] {
	case "HISTORY":
		rows, err := b.deps.DB.GetRegimeHistory(10)
		if err != nil {
			return "❌ " + err.Error()
		}
		if len(rows) == 0 {
			return "No regime history yet."
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "🌐 *REGIME HISTORY*\n%s\n", sep)
		for _, r := range rows {
			tag := ""
			if r.Overridden {
				tag = " (override)"
			}
			fmt.Fprintf(&sb, "• %s %s — %s%s (%.0f%%)\n",
				r.Date, r.ClassifiedAt.In(market.IST).Format("15:04"), r.Label, tag, r.Confidence*100)
		}
		return sb.String()
	case "OVERRIDE":
		if len(args) != 2 {
			return "Usage: `REGIME OVERRIDE <TRENDING|RANGING|VOLATILE>`"
		}
		if err := b.deps.Classifier.Override(args[1], now); err != nil {
			return "❌ " + err.Error()
		}
		return fmt.Sprintf("🌐 Regime overridden to %s for the rest of the day.", args[1])
	}
	return "Usage: `REGIME [HISTORY | OVERRIDE <label>]`"
}

func (b *TelegramBot) cmdVIX() string {
	if b.deps.Quotes == nil || b.deps.VIXToken == "" {
		return "VIX quote source not configured."
	}
	vix, err := b.deps.Quotes.LTP(b.deps.VIXToken)
	if err != nil {
		return "❌ VIX fetch failed: " + err.Error()
	}
	band := "calm"
	v := vix.InexactFloat64()
	switch {
	case v >= 22:
		band = "high, expect whipsaws"
	case v >= 17:
		band = "elevated"
	case v >= 13:
		band = "moderate"
	}
	return fmt.Sprintf("📉 India VIX: %s (%s)", vix.StringFixed(2), band)
}
