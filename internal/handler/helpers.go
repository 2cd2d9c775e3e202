package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// writeJSON serializes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a flat error envelope. The optional extra map adds
// fields beside "error", e.g. required_role on authorization failures.
func writeError(w http.ResponseWriter, status int, message string, extra ...map[string]interface{}) {
	body := map[string]interface{}{"error": message}
	if len(extra) > 0 {
		for k, v := range extra[0] {
			body[k] = v
		}
	}
	writeJSON(w, status, body)
}

// readJSON decodes the request body as JSON into v and closes the body.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
