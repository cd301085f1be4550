package bot

import (
	"strings"
	"testing"
)

func TestParseAllocationArgs(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want map[string]float64
		ok   bool
	}{
		{
			name: "canonical order",
			args: []string{"GAP", "40", "ORB", "35", "VWAP", "25"},
			want: map[string]float64{"GAP": 40, "ORB": 35, "VWAP": 25},
			ok:   true,
		},
		{
			name: "any order",
			args: []string{"VWAP", "20", "GAP", "50", "ORB", "30"},
			want: map[string]float64{"GAP": 50, "ORB": 30, "VWAP": 20},
			ok:   true,
		},
		{
			name: "rounding slack",
			args: []string{"GAP", "33.3", "ORB", "33.3", "VWAP", "33.3"},
			ok:   true,
		},
		{name: "missing strategy", args: []string{"GAP", "60", "ORB", "40"}},
		{name: "bad sum", args: []string{"GAP", "40", "ORB", "30", "VWAP", "20"}},
		{name: "odd arg count", args: []string{"GAP", "40", "ORB"}},
		{name: "unknown strategy", args: []string{"GAP", "40", "ORB", "35", "MOMO", "25"}},
		{name: "negative pct", args: []string{"GAP", "120", "ORB", "-10", "VWAP", "-10"}},
		{name: "non-numeric", args: []string{"GAP", "forty", "ORB", "35", "VWAP", "25"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := parseAllocationArgs(c.args)
			if c.ok != (err == nil) {
				t.Fatalf("parseAllocationArgs(%v) err = %v, want ok=%v", c.args, err, c.ok)
			}
			if c.want != nil {
				for code, pct := range c.want {
					if got[code] != pct {
						t.Errorf("%s = %.1f, want %.1f", code, got[code], pct)
					}
				}
			}
		})
	}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	data := callbackData(cbBookT1, 42)
	action, id, err := parseCallbackData(data)
	if err != nil {
		t.Fatalf("parseCallbackData(%q): %v", data, err)
	}
	if action != cbBookT1 || id != 42 {
		t.Errorf("round trip = (%q, %d), want (%q, 42)", action, id, cbBookT1)
	}

	for _, bad := range []string{"", "taken", ":5", "taken:", "taken:x"} {
		if _, _, err := parseCallbackData(bad); err == nil {
			t.Errorf("parseCallbackData(%q) accepted malformed input", bad)
		}
	}
}

func TestHelpTextCoversCommands(t *testing.T) {
	for _, cmd := range []string{
		"TAKEN", "STATUS", "JOURNAL", "CAPITAL", "PAUSE", "RESUME",
		"ALLOCATE", "STRATEGY", "SCORE", "ADAPT", "REBALANCE", "OVERRIDE",
		"WATCHLIST", "NEWS", "EARNINGS", "REGIME", "VIX", "MORNING",
	} {
		if !strings.Contains(helpText, cmd) {
			t.Errorf("help text missing %s", cmd)
		}
	}
}
