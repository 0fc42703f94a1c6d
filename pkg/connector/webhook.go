package connector

import (
	"context"

	"github.com/invisible-tech/threatcore/internal/types"
)

// Webhook posts alerts and incidents as JSON to a generic HTTP receiver.
// The receiver exposes GET /health, POST /alerts and POST /incidents.
type Webhook struct {
	*httpClient
}

// Kind implements Connector.
func (w *Webhook) Kind() Kind { return KindWebhook }

// Connect implements Connector.
func (w *Webhook) Connect(ctx context.Context) error {
	return w.probe(ctx, "/health")
}

// SendAlert implements Connector.
func (w *Webhook) SendAlert(ctx context.Context, alert *types.Alert) error {
	return w.sendJSON(ctx, "/alerts", alert, nil)
}

// CreateIncident implements Connector. The receiver may answer with
// {"id": "..."}; the incident's own ID is used otherwise.
func (w *Webhook) CreateIncident(ctx context.Context, inc *types.Incident) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := w.sendJSON(ctx, "/incidents", inc, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		resp.ID = inc.ID
	}
	return "webhook://incident/" + resp.ID, nil
}

// Status implements Connector.
func (w *Webhook) Status() Status { return w.status(KindWebhook) }
