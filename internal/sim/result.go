package sim

import (
	"sort"

	"github.com/jspahr/gapdrift/internal/models"
	"github.com/jspahr/gapdrift/internal/util"
)

// Result accumulates the closed trades and skips of one simulation run.
type Result struct {
	Config  Config                `json:"-"`
	Trades  []models.TradeResult  `json:"trades"`
	Skipped []models.SkippedTrade `json:"skipped"`
}

func (r *Result) addTrade(t models.TradeResult) {
	r.Trades = append(r.Trades, t)
}

func (r *Result) addSkip(s models.SkippedTrade) {
	r.Skipped = append(r.Skipped, s)
}

// Summary condenses a run into the headline metrics.
type Summary struct {
	Trades       int            `json:"trades"`
	Skipped      int            `json:"skipped"`
	Wins         int            `json:"wins"`
	Losses       int            `json:"losses"`
	WinRate      float64        `json:"win_rate_pct"`
	TotalPnL     float64        `json:"total_pnl"`
	TotalReturn  float64        `json:"total_return_pct"`
	AvgReturn    float64        `json:"avg_return_pct"`
	ProfitFactor float64        `json:"profit_factor"` // 0 when there are no losing trades
	MaxDrawdown  float64        `json:"max_drawdown"`
	ExitReasons  map[string]int `json:"exit_reasons"`
}

// Summarize walks the closed trades in exit-date order and computes win rate,
// aggregate P&L, profit factor, and the peak-to-trough drawdown of the
// cumulative P&L curve.
func (r *Result) Summarize() Summary {
	s := Summary{
		Trades:      len(r.Trades),
		Skipped:     len(r.Skipped),
		ExitReasons: make(map[string]int),
	}
	if len(r.Trades) == 0 {
		return s
	}

	ordered := make([]models.TradeResult, len(r.Trades))
	copy(ordered, r.Trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitDate < ordered[j].ExitDate
	})

	var invested, grossWin, grossLoss, equity, peak, drawdown float64
	for _, t := range ordered {
		s.ExitReasons[string(t.ExitReason)]++
		s.TotalPnL += t.PnL
		invested += t.Invested
		if t.PnL > 0 {
			s.Wins++
			grossWin += t.PnL
		} else {
			s.Losses++
			grossLoss += -t.PnL
		}
		equity += t.PnL
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > drawdown {
			drawdown = dd
		}
	}

	s.WinRate = util.RoundTo(float64(s.Wins)/float64(s.Trades)*100, 2)
	s.TotalPnL = util.RoundPrice(s.TotalPnL)
	if invested > 0 {
		s.TotalReturn = util.RoundTo(s.TotalPnL/invested*100, 4)
	}
	var avg float64
	for _, t := range r.Trades {
		avg += t.ReturnPct
	}
	s.AvgReturn = util.RoundTo(avg/float64(len(r.Trades)), 4)
	if grossLoss > 0 {
		s.ProfitFactor = util.RoundTo(grossWin/grossLoss, 4)
	}
	s.MaxDrawdown = util.RoundPrice(drawdown)
	return s
}
