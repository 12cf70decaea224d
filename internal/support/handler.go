package support

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"empathai/internal/severity"
	logx "empathai/pkg/logx"
)

var serverText = map[severity.Tier]string{
	severity.High: "This sounds extremely serious, and I'm deeply sorry you're going through this. " +
		"Please prioritize your safety. You can reach out to authorities or trusted friends immediately. " +
		"I'm here with you 💜",
	severity.Medium: "That message sounds really hurtful. I'm here to support you. " +
		"You might want to report or block the person involved. " +
		"You deserve to feel safe and respected 💜",
	severity.Low: "I noticed something that might be bothering you. " +
		"Please remember, you're not alone, I'm here to listen 💜",
}

// HandlerResponse is the trigger endpoint's JSON answer.
type HandlerResponse struct {
	Reply    string        `json:"reply"`
	Severity severity.Tier `json:"severity"`
	Hits     []string      `json:"hits,omitempty"`
}

type handlerRequest struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Handler serves POST /api/trigger-support locally. The answered severity is
// the higher of the provided and the re-detected tier.
type Handler struct {
	classifier *severity.Classifier
	log        logx.Logger
}

func NewHandler(c *severity.Classifier, log logx.Logger) *Handler {
	if c == nil {
		c = severity.Default()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{classifier: c, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req handlerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message cannot be empty"})
		return
	}

	provided, err := severity.ParseTier(req.Severity)
	if err != nil {
		provided = severity.Low
	}
	res := h.classifier.Analyze(msg)
	final := severity.Max(provided, res.Tier)

	h.log.Info("support triggered",
		logx.String("severity", final.String()),
		logx.String("provided", provided.String()),
		logx.Int("hits", len(res.Hits)),
	)
	writeJSON(w, http.StatusOK, HandlerResponse{Reply: serverText[final], Severity: final, Hits: res.Hits})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
