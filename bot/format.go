package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nse-signal-engine/market"
	"nse-signal-engine/risk"
	"nse-signal-engine/storage"
	"nse-signal-engine/types"
)

// Message builders. Everything here is pure: domain values in, Markdown out.

const sep = "━━━━━━━━━━━━━━━━━━━━━━"

func stars(n int) string {
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}
	return strings.Repeat("⭐", n)
}

func rupees(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}

// pctFrom returns the signed % distance of level from base.
func pctFrom(base, level decimal.Decimal) float64 {
	if base.Sign() <= 0 {
		return 0
	}
	return level.Sub(base).Div(base).InexactFloat64() * 100
}

func formatSignal(sig types.FinalSignal, signalID uint, confirmation types.Confirmation, warnings []string) string {
	var b strings.Builder

	header := "🟢 *BUY SIGNAL*"
	if sig.Paper {
		header = "📝 *PAPER SIGNAL*"
	}
	fmt.Fprintf(&b, "%s #%d — *%s*\n%s\n", header, signalID, sig.Symbol, sep)
	fmt.Fprintf(&b, "📊 %s  %s\n", types.StrategyDisplayName[sig.Strategy], stars(sig.Strength))
	fmt.Fprintf(&b, "Score %.1f | Rank %d\n\n", sig.CompositeScore, sig.Rank)

	fmt.Fprintf(&b, "Entry  %s\n", rupees(sig.Entry))
	fmt.Fprintf(&b, "SL     %s (%.1f%%)\n", rupees(sig.StopLoss), pctFrom(sig.Entry, sig.StopLoss))
	fmt.Fprintf(&b, "T1     %s (+%.1f%%)\n", rupees(sig.Target1), pctFrom(sig.Entry, sig.Target1))
	fmt.Fprintf(&b, "T2     %s (+%.1f%%)\n\n", rupees(sig.Target2), pctFrom(sig.Entry, sig.Target2))

	fmt.Fprintf(&b, "Qty %d | Capital %s\n", sig.Quantity, rupees(sig.CapitalRequired))
	fmt.Fprintf(&b, "⏳ Valid till %s\n", sig.ExpiresAt.In(market.IST).Format("15:04"))

	if confirmation.Level >= types.ConfirmDouble {
		fmt.Fprintf(&b, "\n✅ Confirmed by %s\n", strings.Join(confirmation.Strategies, " + "))
	}
	for _, w := range warnings {
		fmt.Fprintf(&b, "⚠️ %s\n", w)
	}
	return b.String()
}

func formatAdvisory(trade *storage.Trade, kind string, ltp decimal.Decimal) string {
	pnlPct := pctFrom(trade.Entry, ltp)

	switch kind {
	case risk.AdvisoryBreakeven:
		return fmt.Sprintf("🛡 *%s* — SL moved to breakeven %s\nLTP %s (%+.1f%%). Worst case is now a scratch.",
			trade.Symbol, rupees(trade.Entry), rupees(ltp), pnlPct)
	case risk.AdvisoryTrailingSL:
		return fmt.Sprintf("📈 *%s* — trailing SL raised to %s\nLTP %s (%+.1f%%), high %s.",
			trade.Symbol, rupees(trade.StopLoss), rupees(ltp), pnlPct, rupees(trade.HighestPrice))
	case risk.AdvisoryT1:
		return fmt.Sprintf("🎯 *%s* — Target 1 hit at %s (%+.1f%%)\nBook half or ride the full position to T2 %s?",
			trade.Symbol, rupees(ltp), pnlPct, rupees(trade.Target2))
	case risk.AdvisorySLApproaching:
		return fmt.Sprintf("⚠️ *%s* — within 0.5%% of SL %s\nLTP %s (%+.1f%%).",
			trade.Symbol, rupees(trade.StopLoss), rupees(ltp), pnlPct)
	case risk.AdvisoryNearT2:
		return fmt.Sprintf("🔥 *%s* — within 0.3%% of T2 %s\nLTP %s (%+.1f%%).",
			trade.Symbol, rupees(trade.Target2), rupees(ltp), pnlPct)
	case risk.AdvisoryTimeExit:
		return fmt.Sprintf("⏰ *%s* — 15:00, square-off window\nLTP %s (%+.1f%%). Mandatory exit at 15:15.",
			trade.Symbol, rupees(ltp), pnlPct)
	}
	return fmt.Sprintf("ℹ️ *%s* — %s at %s", trade.Symbol, kind, rupees(ltp))
}

var exitLabels = map[string]string{
	types.ExitSLHit:      "🔴 STOP-LOSS HIT",
	types.ExitTrailingSL: "🟠 TRAILING STOP HIT",
	types.ExitT1Hit:      "🟢 TARGET 1 EXIT",
	types.ExitT2Hit:      "🟢 TARGET 2 HIT",
	types.ExitTimeExit:   "⏰ TIME EXIT",
	types.ExitManual:     "✋ MANUAL EXIT",
}

func formatExit(trade *storage.Trade, reason string, exitPrice, pnlAbs decimal.Decimal, pnlPct float64) string {
	label, ok := exitLabels[reason]
	if !ok {
		label = "EXIT"
	}
	emoji := "🟢"
	if pnlAbs.Sign() < 0 {
		emoji = "🔴"
	}
	tag := ""
	if trade.Paper {
		tag = " (paper)"
	}
	return fmt.Sprintf("%s — *%s*%s\n%s\nEntry %s → Exit %s\n%s P&L %s (%+.2f%%)",
		label, trade.Symbol, tag, sep,
		rupees(trade.Entry), rupees(exitPrice),
		emoji, rupees(pnlAbs), pnlPct)
}

func formatDailySummary(s *storage.DaySummary, perf []storage.StrategyPerformance) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *DAILY SUMMARY — %s*\n%s\n", s.Date, sep)
	fmt.Fprintf(&b, "Signals %d | Taken %d | Skipped %d | Expired %d\n",
		s.Signals, s.Taken, s.Skipped, s.Expired)
	fmt.Fprintf(&b, "Closed %d (W %d / L %d)", s.Closed, s.Wins, s.Losses)
	if s.OpenAtEOD > 0 {
		fmt.Fprintf(&b, " | ⚠️ still open: %d", s.OpenAtEOD)
	}
	emoji := "🟢"
	if s.PnLAbs.Sign() < 0 {
		emoji = "🔴"
	}
	fmt.Fprintf(&b, "\n%s Net P&L %s\n", emoji, rupees(s.PnLAbs))

	if len(perf) > 0 {
		fmt.Fprintf(&b, "\n*By strategy*\n")
		for _, p := range perf {
			fmt.Fprintf(&b, "• %s: %d signals, %d taken, %.0f%% win, %s\n",
				p.Strategy, p.Signals, p.Taken, p.WinRatePct, rupees(p.PnLAbs))
		}
	}
	return b.String()
}

// buildMorningBrief assembles the pre-open picture from whatever sources
// answer; a missing piece drops out of the message rather than failing it.
func (b *TelegramBot) buildMorningBrief(now time.Time) string {
	day := market.Day(now)
	var sb strings.Builder
	fmt.Fprintf(&sb, "🌅 *MORNING BRIEF — %s*\n%s\n", day, sep)

	if b.deps.Quotes != nil && b.deps.VIXToken != "" {
		if vix, err := b.deps.Quotes.LTP(b.deps.VIXToken); err == nil {
			fmt.Fprintf(&sb, "India VIX: %s\n", vix.StringFixed(2))
		}
	}
	if cls, ok := b.deps.Classifier.Current(); ok {
		fmt.Fprintf(&sb, "Regime: %s (%.0f%% confidence)\n", cls.Label, cls.Confidence*100)
	}

	settings := b.deps.Settings.Snapshot()
	fmt.Fprintf(&sb, "\n💰 Capital %s | Max positions %d\n", rupees(settings.Capital), settings.MaxPositions)
	fmt.Fprintf(&sb, "Allocations: GAP %.0f%% / ORB %.0f%% / VWAP %.0f%%\n",
		settings.AllocationFor(types.StrategyGap),
		settings.AllocationFor(types.StrategyORB),
		settings.AllocationFor(types.StrategyVWAP))
	var paused []string
	for code := range settings.PausedStrategies {
		if settings.PausedStrategies[code] {
			paused = append(paused, code)
		}
	}
	if len(paused) > 0 {
		fmt.Fprintf(&sb, "⏸ Paused: %s\n", strings.Join(paused, ", "))
	}

	if events, err := b.deps.DB.GetEarningsBetween(day, day); err == nil && len(events) > 0 {
		fmt.Fprintf(&sb, "\n📊 *Earnings today* (signals blocked)\n")
		for _, e := range events {
			fmt.Fprintf(&sb, "• %s\n", e.Symbol)
		}
	}
	if watches, err := b.deps.DB.GetWatchlist(); err == nil && len(watches) > 0 {
		fmt.Fprintf(&sb, "\n👁 *Watchlist*\n")
		for _, w := range watches {
			fmt.Fprintf(&sb, "• %s (%s) — %s\n", w.Symbol, w.Strategy, w.Note)
		}
	}

	fmt.Fprintf(&sb, "\nScanning starts at the 09:15 bell.")
	return sb.String()
}
