package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// allowGet writes 405 and returns false for anything but GET.
func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// parseLimit reads ?limit. Absent means max (0 = all). Present but not a positive integer is invalid.
func parseLimit(r *http.Request, max int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return max, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	if max > 0 && n > max {
		n = max
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
