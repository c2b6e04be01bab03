package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/logger"
)

// StatusReport is the JSON document posted to the configured webhook after
// lifecycle operations.
type StatusReport struct {
	Timestamp string `json:"timestamp"`
	Instance  string `json:"instance"`
	Operation string `json:"operation"`
	Key       string `json:"key"`
	Status    string `json:"status"`
	Endpoint  string `json:"endpoint,omitempty"`
}

/**
 * Reporter sends operation outcomes to an external webhook
 * @description
 * - Disabled (no-op) when report.webhook_url is unset
 * - Delivery failures are logged, never surfaced: reporting must not make
 *   a succeeded setup/ensure look failed
 */
type Reporter struct {
	webhookUrl string
	instance   string
	client     *http.Client
}

func NewReporter() *Reporter {
	cfg := config.Get()
	return &Reporter{
		webhookUrl: cfg.Report.WebhookUrl,
		instance:   cfg.Report.Instance,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Reporter) Report(operation, key, status, endpoint string) {
	if r == nil || r.webhookUrl == "" {
		return
	}
	report := StatusReport{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Instance:  r.instance,
		Operation: operation,
		Key:       key,
		Status:    status,
		Endpoint:  endpoint,
	}
	body, err := json.Marshal(report)
	if err != nil {
		logger.Errorf("Failed to marshal status report: %v", err)
		return
	}
	resp, err := r.client.Post(r.webhookUrl, "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Warnf("Failed to send status report to webhook: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		logger.Warnf("Webhook returned status %d for %s report", resp.StatusCode, operation)
		return
	}
	logger.Debugf("Status report sent to webhook (%s %s)", operation, key)
}
