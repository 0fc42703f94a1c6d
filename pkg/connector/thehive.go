package connector

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/types"
)

const theHiveSource = "threatcore"

// theHiveSeverity maps priorities onto TheHive's 0-4 severity scale.
var theHiveSeverity = map[string]int{
	"critical": 4,
	"high":     3,
	"medium":   2,
	"low":      1,
	"info":     0,
}

func theHiveSeverityOf(level string) int {
	if s, ok := theHiveSeverity[level]; ok {
		return s
	}
	return 2
}

// TheHive creates TheHive alerts and cases through its REST API.
type TheHive struct {
	*httpClient
}

type theHiveArtifact struct {
	DataType string `json:"dataType"`
	Data     string `json:"data"`
}

type theHiveAlert struct {
	Type        string            `json:"type"`
	Source      string            `json:"source"`
	SourceRef   string            `json:"sourceRef"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Severity    int               `json:"severity"`
	Tags        []string          `json:"tags"`
	Artifacts   []theHiveArtifact `json:"artifacts"`
}

type theHiveCase struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    int      `json:"severity"`
	Tags        []string `json:"tags"`
	Status      string   `json:"status"`
}

// Kind implements Connector.
func (h *TheHive) Kind() Kind { return KindTheHive }

// Connect implements Connector.
func (h *TheHive) Connect(ctx context.Context) error {
	return h.probe(ctx, "/api/status")
}

// ensureConnected probes the status endpoint when no probe has succeeded yet.
func (h *TheHive) ensureConnected(ctx context.Context) error {
	if h.isConnected() {
		return nil
	}
	if err := h.Connect(ctx); err != nil {
		return fmt.Errorf("thehive connect: %w", err)
	}
	return nil
}

// SendAlert implements Connector. Event IPs are attached as ip artifacts.
func (h *TheHive) SendAlert(ctx context.Context, alert *types.Alert) error {
	if !h.configured() {
		return ErrNotConfigured
	}
	if err := h.ensureConnected(ctx); err != nil {
		return err
	}
	payload := theHiveAlert{
		Type:        "alert",
		Source:      theHiveSource,
		SourceRef:   alert.ID,
		Title:       alert.Title,
		Description: alert.Description,
		Severity:    theHiveSeverityOf(string(alert.Priority)),
		Tags:        []string{string(alert.Priority), alert.Source},
		Artifacts:   []theHiveArtifact{},
	}
	for _, ip := range []string{alert.SourceIP, alert.DestIP} {
		if ip != "" {
			payload.Artifacts = append(payload.Artifacts, theHiveArtifact{DataType: "ip", Data: ip})
		}
	}
	if err := h.sendJSON(ctx, "/api/alert", payload, nil); err != nil {
		return fmt.Errorf("thehive alert: %w", err)
	}
	return nil
}

// CreateIncident implements Connector and returns thehive://case/<id>. The
// incident's own ID is used when TheHive answers without one.
func (h *TheHive) CreateIncident(ctx context.Context, inc *types.Incident) (string, error) {
	if !h.configured() {
		return "", ErrNotConfigured
	}
	if err := h.ensureConnected(ctx); err != nil {
		return "", err
	}
	status := "InProgress"
	if inc.Status == "open" {
		status = "Open"
	}
	tags := inc.Tags
	if tags == nil {
		tags = []string{}
	}
	payload := theHiveCase{
		Title:       inc.Title,
		Description: inc.Description,
		Severity:    theHiveSeverityOf(inc.Severity),
		Tags:        tags,
		Status:      status,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := h.sendJSON(ctx, "/api/case", payload, &resp); err != nil {
		return "", fmt.Errorf("thehive case: %w", err)
	}
	if resp.ID == "" {
		h.log.WithFields(logrus.Fields{"incident_id": inc.ID}).Warn("TheHive returned a case without id")
		resp.ID = inc.ID
	}
	return "thehive://case/" + resp.ID, nil
}

// Status implements Connector.
func (h *TheHive) Status() Status { return h.status(KindTheHive) }
