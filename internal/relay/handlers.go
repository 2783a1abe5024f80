package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"crypto-price-alerts/internal/alerting"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	msgMissingAlertFields  = "Missing required fields: userEmail or alert"
	msgInvalidEmail        = "Invalid email address"
	msgAlertMissingFields  = "Alert object missing required fields"
	msgMissingUpdateFields = "Missing required fields: userEmail, coinName, currentPrice or targetPrice"
	msgMissingUserEmail    = "Missing userEmail query parameter"
	msgSendFailed          = "Failed to send email"
)

type alertRequest struct {
	UserEmail string          `json:"userEmail"`
	Alert     json.RawMessage `json:"alert"`
}

type priceUpdateRequest struct {
	UserEmail    string `json:"userEmail"`
	CoinName     string `json:"coinName"`
	CurrentPrice Amount `json:"currentPrice"`
	TargetPrice  Amount `json:"targetPrice"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": s.now().UTC().Format(isoMillis),
	})
}

// decodeAlertRequest validates the body shared by the alert endpoints.
func (s *Server) decodeAlertRequest(w http.ResponseWriter, r *http.Request) (alertRequest, AlertPayload, bool) {
	var req alertRequest
	if !decodeBody(w, r, &req) {
		return req, AlertPayload{}, false
	}
	if req.UserEmail == "" || isNullJSON(req.Alert) {
		writeError(w, http.StatusBadRequest, msgMissingAlertFields)
		return req, AlertPayload{}, false
	}
	if !emailPattern.MatchString(req.UserEmail) {
		writeError(w, http.StatusBadRequest, msgInvalidEmail)
		return req, AlertPayload{}, false
	}
	var payload AlertPayload
	if err := json.Unmarshal(req.Alert, &payload); err != nil || !payload.Valid() {
		writeError(w, http.StatusBadRequest, msgAlertMissingFields)
		return req, AlertPayload{}, false
	}
	return req, payload, true
}

func (s *Server) handleRegisterAlert(w http.ResponseWriter, r *http.Request) {
	req, payload, ok := s.decodeAlertRequest(w, r)
	if !ok {
		return
	}
	if s.registry.Register(req.UserEmail, req.Alert, payload) {
		s.metrics.Registered.Set(float64(s.registry.Len()))
		s.logger.Info().Str("email", req.UserEmail).Str("coin", payload.Coin).Msg("alert registered")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAlertTriggered(w http.ResponseWriter, r *http.Request) {
	req, payload, ok := s.decodeAlertRequest(w, r)
	if !ok {
		return
	}

	// the entry is marked before sending, so a failed send still records the trigger
	s.registry.MarkTriggered(req.UserEmail, req.Alert, payload)
	s.metrics.Registered.Set(float64(s.registry.Len()))

	html, err := s.templates.AlertTriggered(payload, s.now())
	if err == nil {
		err = s.sender.Send(r.Context(), Message{
			To:      req.UserEmail,
			Subject: alerting.TriggeredSubject(payload.CoinName),
			HTML:    html,
		})
	}
	if err != nil {
		s.sendFailed(w, "alert_triggered", req.UserEmail, err)
		return
	}

	s.metrics.Emails.WithLabelValues("alert_triggered", "sent").Inc()
	s.logger.Info().Str("email", req.UserEmail).Str("coin", payload.CoinName).Msg("alert triggered email sent")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Alert email sent successfully"})
}

func (s *Server) handlePriceUpdate(w http.ResponseWriter, r *http.Request) {
	var req priceUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserEmail == "" || strings.TrimSpace(req.CoinName) == "" || !req.CurrentPrice.Present() || !req.TargetPrice.Present() {
		writeError(w, http.StatusBadRequest, msgMissingUpdateFields)
		return
	}
	if !emailPattern.MatchString(req.UserEmail) {
		writeError(w, http.StatusBadRequest, msgInvalidEmail)
		return
	}

	html, err := s.templates.PriceUpdate(req.CoinName, req.CurrentPrice.Value, req.TargetPrice.Value)
	if err == nil {
		err = s.sender.Send(r.Context(), Message{
			To:      req.UserEmail,
			Subject: alerting.PriceUpdateSubject(req.CoinName),
			HTML:    html,
		})
	}
	if err != nil {
		s.sendFailed(w, "price_update", req.UserEmail, err)
		return
	}

	s.metrics.Emails.WithLabelValues("price_update", "sent").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Price update email sent successfully"})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("userEmail")
	if email == "" {
		writeError(w, http.StatusBadRequest, msgMissingUserEmail)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": s.registry.List(email)})
}

func (s *Server) sendFailed(w http.ResponseWriter, template, email string, err error) {
	s.metrics.Emails.WithLabelValues(template, "failed").Inc()
	s.logger.Error().Err(err).Str("email", email).Str("template", template).Msg("failed to send email")
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   msgSendFailed,
		"details": err.Error(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request entity too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
