package handler

import (
	"net/http"
	"time"

	"github.com/ubiquity/arbitrage-bot/internal/service"
)

// StatusProvider reports the scan loop's counters and last observation.
type StatusProvider interface {
	Status() service.Status
}

// StatusHandler serves the bot status (mode, loop counters, last venue
// snapshot) for the dashboard.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	provider  StatusProvider // nil in serve-only deployments
}

// NewStatusHandler creates a StatusHandler for the given mode. provider
// may be nil when no scan loop is running.
func NewStatusHandler(mode string, provider StatusProvider) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		provider:  provider,
	}
}

// snapshotResponse is the JSON shape of the last venue observation.
type snapshotResponse struct {
	Pair              string    `json:"pair"`
	Pool              string    `json:"pool"`
	ReserveDollar     string    `json:"reserve_dollar"`
	ReserveCollateral string    `json:"reserve_collateral"`
	PoolPriceUsd      string    `json:"pool_price_usd"`
	ObservedAt        time.Time `json:"observed_at"`
}

// GetStatus responds with the current mode, uptime and loop counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if h.provider != nil {
		st := h.provider.Status()
		resp["scans"] = st.Scans
		resp["opportunities"] = st.Opportunities
		resp["attempts"] = st.Attempts
		if !st.LastScanAt.IsZero() {
			resp["last_scan_at"] = st.LastScanAt.Format(time.RFC3339)
		}
		if st.LastOpportunity != "" {
			resp["last_opportunity_id"] = st.LastOpportunity
		}
		if st.LastError != "" {
			resp["last_error"] = st.LastError
		}
		if !st.LastSnapshot.ObservedAt.IsZero() {
			resp["snapshot"] = snapshotResponse{
				Pair:              st.LastSnapshot.Pair.Hex(),
				Pool:              st.LastSnapshot.Pool.Hex(),
				ReserveDollar:     bigString(st.LastSnapshot.ReserveDollar),
				ReserveCollateral: bigString(st.LastSnapshot.ReserveCollateral),
				PoolPriceUsd:      bigString(st.LastSnapshot.PoolPriceUsd),
				ObservedAt:        st.LastSnapshot.ObservedAt,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
