package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/yellowcrystalz/masa-meter/ledger"
	"github.com/yellowcrystalz/masa-meter/telemetry"
)

type meterEntry struct {
	Meter int64 `json:"meter"`
}

// HandleMeter returns the total mention count as [{"meter": n}].
func (h *Handlers) HandleMeter(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	n, err := h.ledger.Meter(r.Context())
	if err != nil {
		h.ledgerError(w, r, "meter", err)
		return
	}
	writeJSON(w, http.StatusOK, []meterEntry{{Meter: n}})
}

// HandleHistory returns every mention in insertion order, optionally for one ?username=.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	var (
		entries []ledger.HistoryEntry
		err     error
	)
	if name := r.URL.Query().Get("username"); name != "" {
		entries, err = h.ledger.SpeakerHistory(r.Context(), name)
	} else {
		entries, err = h.ledger.History(r.Context())
	}
	if err != nil {
		h.ledgerError(w, r, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleLeaderboard returns speakers ranked by count. ?limit=n truncates the list.
func (h *Handlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	limit, ok := parseLimit(r, h.maxLeaderboard)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	entries, err := h.ledger.Leaderboard(r.Context())
	if err != nil {
		h.ledgerError(w, r, "leaderboard", err)
		return
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleAchievements returns every achievement and its current holder.
func (h *Handlers) HandleAchievements(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	a, err := h.ledger.Achievements(r.Context())
	if err != nil {
		h.ledgerError(w, r, "achievements", err)
		return
	}
	writeJSON(w, http.StatusOK, a.List())
}

func (h *Handlers) ledgerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, ledger.ErrInvalidSpeaker) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Error("ledger read failed",
		slog.String("component", "http"),
		slog.String("op", op),
		slog.String("class", ledger.Classify(err).String()),
		slog.Any("err", err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
