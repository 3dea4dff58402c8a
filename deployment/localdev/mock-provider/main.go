// Command mock-provider is an OpenAI-compatible chat completions stub for local runs of
// the grounded reasoner. It answers every prompt with hypotheses derived from the
// scenario hint and alert types in the request.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type promptView struct {
	Incident struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
	} `json:"incident"`
	AlertsSample []struct {
		AlertType string `json:"alert_type"`
		Host      string `json:"host"`
	} `json:"alerts_sample"`
	RAGContext []struct {
		ID string `json:"id"`
	} `json:"rag_context"`
	ScenarioHint string `json:"scenario_hint"`
}

type answer struct {
	IncidentSummary  string             `json:"incident_summary"`
	Hypotheses       []string           `json:"hypotheses"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	Evidence         map[string]string  `json:"evidence"`
}

func main() {
	addr := flag.String("addr", ":8089", "listen address")
	delay := flag.Duration("delay", 0, "artificial latency per completion")
	mode := flag.String("mode", "ok", "ok, fenced or error")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if *delay > 0 {
			select {
			case <-time.After(*delay):
			case <-r.Context().Done():
				return
			}
		}
		if *mode == "error" {
			http.Error(w, `{"error":{"message":"model overloaded"}}`, http.StatusServiceUnavailable)
			return
		}

		content, err := complete(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if *mode == "fenced" {
			content = "```json\n" + content + "\n```"
		}
		writeJSON(w, map[string]any{
			"id":      fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
			"object":  "chat.completion",
			"model":   req.Model,
			"created": time.Now().Unix(),
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       chatMessage{Role: "assistant", Content: content},
			}},
		})
	})

	logger := log.New(log.Writer(), "provider-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    *addr,
		Handler: logRequests(logger, mux),
	}

	logger.Printf("listening on %s (mode=%s)", *addr, *mode)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func complete(req chatRequest) (string, error) {
	var user string
	for _, m := range req.Messages {
		if m.Role == "user" {
			user = m.Content
		}
	}
	var prompt promptView
	if err := json.Unmarshal([]byte(user), &prompt); err != nil {
		return "", fmt.Errorf("user message is not a JSON prompt: %w", err)
	}

	types := map[string]int{}
	hosts := map[string]struct{}{}
	for _, a := range prompt.AlertsSample {
		types[a.AlertType]++
		hosts[a.Host] = struct{}{}
	}
	dominant, count := "", 0
	for t, n := range types {
		if n > count || (n == count && t < dominant) {
			dominant, count = t, n
		}
	}

	primary := prompt.ScenarioHint
	if primary == "" {
		primary = fmt.Sprintf("Upstream fault behind repeated %s alerts", fallback(dominant, "unknown"))
	}
	secondary := "Configuration change on the affected segment"

	docs := make([]string, 0, len(prompt.RAGContext))
	for _, d := range prompt.RAGContext {
		docs = append(docs, d.ID)
	}

	out := answer{
		IncidentSummary:  fallback(prompt.Incident.Summary, "incident "+prompt.Incident.ID),
		Hypotheses:       []string{primary, secondary},
		ConfidenceScores: map[string]float64{primary: 0.72, secondary: 0.18},
		Evidence: map[string]string{
			"dominant_alert_type": dominant,
			"hosts":               fmt.Sprint(len(hosts)),
			"cited_documents":     strings.Join(docs, ","),
		},
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
