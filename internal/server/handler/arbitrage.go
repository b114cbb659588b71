package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

// OpportunitySource lists recorded opportunities, newest first. The
// Postgres store satisfies it.
type OpportunitySource interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error)
}

// SettlementSource lists recorded settlements, newest first.
type SettlementSource interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Settlement, error)
}

// Scanner runs one scan cycle on demand. The arbitrage service satisfies
// it; serve-only deployments leave it unset.
type Scanner interface {
	ScanOnce(ctx context.Context) (*domain.Opportunity, domain.VenueSnapshot, error)
}

// ArbHandler serves arbitrage-related HTTP endpoints.
type ArbHandler struct {
	opportunities OpportunitySource // nil when persistence is disabled
	settlements   SettlementSource  // nil when persistence is disabled
	scanner       Scanner           // nil when no scan loop is wired
	logger        *slog.Logger
}

// NewArbHandler creates an ArbHandler reading from the given sources.
// Either source may be nil, in which case its endpoint returns 501.
func NewArbHandler(opportunities OpportunitySource, settlements SettlementSource, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{
		opportunities: opportunities,
		settlements:   settlements,
		logger:        logger,
	}
}

// WithScanner enables the on-demand scan endpoint.
func (h *ArbHandler) WithScanner(sc Scanner) *ArbHandler {
	h.scanner = sc
	return h
}

// opportunityResponse is the JSON shape of one recorded divergence.
// Amounts are decimal strings in raw token units; prices are decimal
// strings in PriceScale fixed point.
type opportunityResponse struct {
	ID              string     `json:"id"`
	Pair            string     `json:"pair"`
	Pool            string     `json:"pool"`
	Direction       string     `json:"direction"`
	DollarToken     string     `json:"dollar_token"`
	CollateralToken string     `json:"collateral_token"`
	ReserveDollar   string     `json:"reserve_dollar"`
	ReserveColl     string     `json:"reserve_collateral"`
	PairPriceUsd    string     `json:"pair_price_usd"`
	PoolPriceUsd    string     `json:"pool_price_usd"`
	Borrow          string     `json:"borrow"`
	Debt            string     `json:"debt"`
	ExpectedOut     string     `json:"expected_out"`
	ExpectedProfit  string     `json:"expected_profit"`
	Profitable      bool       `json:"profitable"`
	DetectedAt      time.Time  `json:"detected_at"`
	Executed        bool       `json:"executed"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
}

func toOpportunityResponse(opp domain.Opportunity) opportunityResponse {
	return opportunityResponse{
		ID:              opp.ID,
		Pair:            opp.Pair.Hex(),
		Pool:            opp.Pool.Hex(),
		Direction:       string(opp.Direction),
		DollarToken:     opp.DollarToken.Hex(),
		CollateralToken: opp.CollateralToken.Hex(),
		ReserveDollar:   bigString(opp.PairReserveDollar),
		ReserveColl:     bigString(opp.PairReserveCollateral),
		PairPriceUsd:    bigString(opp.PairPriceUsd),
		PoolPriceUsd:    bigString(opp.PoolPriceUsd),
		Borrow:          bigString(opp.BorrowAmount),
		Debt:            bigString(opp.DebtAmount),
		ExpectedOut:     bigString(opp.ExpectedOut),
		ExpectedProfit:  bigString(opp.ExpectedProfit),
		Profitable:      opp.Profitable,
		DetectedAt:      opp.DetectedAt,
		Executed:        opp.Executed,
		ExecutedAt:      opp.ExecutedAt,
	}
}

// settlementResponse is the JSON shape of one settlement attempt.
type settlementResponse struct {
	ID            string    `json:"id"`
	OpportunityID string    `json:"opportunity_id,omitempty"`
	Pair          string    `json:"pair"`
	Pool          string    `json:"pool"`
	Direction     string    `json:"direction"`
	State         string    `json:"state"`
	Borrow        string    `json:"borrow,omitempty"`
	Debt          string    `json:"debt,omitempty"`
	ProceedsOut   string    `json:"proceeds_out,omitempty"`
	Profit        string    `json:"profit,omitempty"`
	ProfitToken   string    `json:"profit_token,omitempty"`
	FailReason    string    `json:"fail_reason,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

func toSettlementResponse(st domain.Settlement) settlementResponse {
	resp := settlementResponse{
		ID:            st.ID,
		OpportunityID: st.OpportunityID,
		Pair:          st.Pair.Hex(),
		Pool:          st.Pool.Hex(),
		Direction:     string(st.Direction),
		State:         string(st.State),
		Borrow:        bigString(st.BorrowAmount),
		Debt:          bigString(st.DebtAmount),
		ProceedsOut:   bigString(st.ProceedsOut),
		Profit:        bigString(st.Profit),
		FailReason:    st.FailReason,
		StartedAt:     st.StartedAt,
		FinishedAt:    st.FinishedAt,
	}
	if st.ProfitToken != (common.Address{}) {
		resp.ProfitToken = st.ProfitToken.Hex()
	}
	return resp
}

// ListOpportunities returns the most recent recorded opportunities.
// GET /api/opportunities?limit=20
func (h *ArbHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	if h.opportunities == nil {
		writeError(w, http.StatusNotImplemented, "opportunity persistence not configured")
		return
	}
	limit := parseLimit(r, 20, 200)

	opps, err := h.opportunities.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}

	resp := make([]opportunityResponse, 0, len(opps))
	for _, opp := range opps {
		resp = append(resp, toOpportunityResponse(opp))
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": resp})
}

// ListSettlements returns the most recent recorded settlements, aborted
// attempts included.
// GET /api/settlements?limit=20
func (h *ArbHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	if h.settlements == nil {
		writeError(w, http.StatusNotImplemented, "settlement persistence not configured")
		return
	}
	limit := parseLimit(r, 20, 200)

	sts, err := h.settlements.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list settlements failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list settlements")
		return
	}

	resp := make([]settlementResponse, 0, len(sts))
	for _, st := range sts {
		resp = append(resp, toSettlementResponse(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": resp})
}

// TriggerScan runs one scan cycle on demand and returns the detected
// opportunity, if any. Aligned venues return 200 with a null opportunity.
// POST /api/scan
func (h *ArbHandler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	if h.scanner == nil {
		writeError(w, http.StatusNotImplemented, "no scan loop configured")
		return
	}

	opp, snap, err := h.scanner.ScanOnce(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: triggered scan failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "scan failed")
		return
	}

	resp := map[string]any{
		"observed_at": snap.ObservedAt.Format(time.RFC3339),
		"opportunity": nil,
	}
	if opp != nil {
		resp["opportunity"] = toOpportunityResponse(*opp)
	}
	writeJSON(w, http.StatusOK, resp)
}
