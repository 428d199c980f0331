package models

// ExitReason explains why a position was closed.
type ExitReason string

// Exit reasons attached to closed trades.
const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitMaxHolding ExitReason = "max_holding"
	ExitEndOfData  ExitReason = "end_of_data"
	ExitTrendBreak ExitReason = "trend_break"
	ExitRotatedOut ExitReason = "rotated_out"
)

// Valid reports whether r is a known exit reason.
func (r ExitReason) Valid() bool {
	switch r {
	case ExitStopLoss, ExitMaxHolding, ExitEndOfData, ExitTrendBreak, ExitRotatedOut:
		return true
	}
	return false
}

// SkipReason explains why a candidate did not become a trade.
type SkipReason string

// Skip reasons recorded for rejected candidates.
const (
	SkipDuplicateTicker SkipReason = "duplicate_ticker"
	SkipNoPriceData     SkipReason = "no_price_data"
	SkipMissingOHLC     SkipReason = "missing_ohlc"
	SkipZeroShares      SkipReason = "zero_shares"
	SkipCapacityFull    SkipReason = "capacity_full"
	SkipDailyLimit      SkipReason = "daily_limit"
	SkipAlreadyHeld     SkipReason = "already_held"
	SkipBelowMinGrade   SkipReason = "below_min_grade"
)

// Valid reports whether r is a known skip reason.
func (r SkipReason) Valid() bool {
	switch r {
	case SkipDuplicateTicker, SkipNoPriceData, SkipMissingOHLC, SkipZeroShares,
		SkipCapacityFull, SkipDailyLimit, SkipAlreadyHeld, SkipBelowMinGrade:
		return true
	}
	return false
}

// TradeResult is one closed simulated trade.
type TradeResult struct {
	Ticker      string     `json:"ticker"`
	Grade       Grade      `json:"grade"`
	Score       float64    `json:"score,omitempty"`
	ReportDate  string     `json:"report_date"`
	EntryDate   string     `json:"entry_date"`
	EntryPrice  float64    `json:"entry_price"`
	ExitDate    string     `json:"exit_date"`
	ExitPrice   float64    `json:"exit_price"`
	Shares      int        `json:"shares"`
	Invested    float64    `json:"invested"`
	PnL         float64    `json:"pnl"`
	ReturnPct   float64    `json:"return_pct"`
	DaysHeld    int        `json:"days_held"`
	ExitReason  ExitReason `json:"exit_reason"`
	GapSize     float64    `json:"gap_size,omitempty"`
	CompanyName string     `json:"company_name,omitempty"`
}

// SkippedTrade records a candidate rejected before entry.
type SkippedTrade struct {
	Ticker string     `json:"ticker"`
	Reason SkipReason `json:"reason"`
	Score  float64    `json:"score,omitempty"`
	Date   string     `json:"date,omitempty"`
}
