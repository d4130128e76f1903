package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// accountFromRequest resolves the account id and its configured portfolio.
// A ?portfolio= query overrides the configured pairing.
func (s *Server) accountFromRequest(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		return 0, "", false
	}

	portfolio := r.URL.Query().Get("portfolio")
	if portfolio == "" {
		portfolio = s.portfolios[accountID]
	}
	if portfolio == "" {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no portfolio configured for account"})
		return 0, "", false
	}
	return accountID, portfolio, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"queue_depth":    s.dispatcher.QueueDepth(),
		"executed_keys":  s.dedup.Size(),
		"tracked_pairs":  len(s.portfolios),
		"followed_count": len(s.cfg.Follow),
	}

	tracking := make(map[string]bool, len(s.portfolios))
	for accountID := range s.portfolios {
		tracking[strconv.FormatInt(accountID, 10)] = s.orchestrator.TrackingActive(accountID)
	}
	status["tracking"] = tracking

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		status["cpu_percent"] = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		status["memory_percent"] = memStat.UsedPercent
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	accountID, portfolio, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}

	report, err := s.orchestrator.RunSyncCycle(accountID, portfolio)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCheckSync(w http.ResponseWriter, r *http.Request) {
	accountID, portfolio, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}

	needs, plan, err := s.orchestrator.CheckNeedsSync(accountID, portfolio)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"needs_sync":           needs,
		"planned_instructions": plan,
	})
}

func (s *Server) handleLastReport(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}

	report := s.orchestrator.LastReport(accountID)
	if report == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "account has not synced yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStartTrack(w http.ResponseWriter, r *http.Request) {
	accountID, portfolio, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}

	interval := time.Duration(s.cfg.TrackInterval) * time.Second
	started := s.orchestrator.StartAutoTrack(context.Background(), accountID, portfolio, interval)
	if !started {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "account is already tracking"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tracking": true, "interval_seconds": s.cfg.TrackInterval})
}

func (s *Server) handleStopTrack(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}

	if !s.orchestrator.StopAutoTrack(accountID) {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "account is not tracking"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"tracking": false})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	transactions, err := s.gateway.ListRecentTransactions(accountID, limit)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transactions)
}

func (s *Server) handleTradeLog(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	entries, err := s.tradeLog.Recent(accountID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if err := s.cloudBackup.CreateAndUpload(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "uploaded"})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.cloudBackup.ListBackups(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, backups)
}
