package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	application "agora/contexts/governance/governance-engine/application"
	"agora/contexts/governance/governance-engine/domain/entities"
	"agora/contexts/governance/governance-engine/ports"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const DefaultTimeout = 5 * time.Second

// maxResponseBytes bounds how much of a receipt body is read.
const maxResponseBytes = 1 << 20

// Webhook hands approved payloads to an external executor over HTTP. The
// proposal id is sent as the Idempotency-Key header so the receiver can
// collapse resent attempts.
type Webhook struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewWebhook(endpoint string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Webhook{
		endpoint: strings.TrimSpace(endpoint),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: application.ResolveLogger(logger),
	}
}

type executeRequest struct {
	ProposalID string          `json:"proposal_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RawPayload []byte          `json:"raw_payload,omitempty"`
}

type executeResponse struct {
	Success      bool   `json:"success"`
	GasUsed      uint64 `json:"gas_used"`
	Cost         string `json:"cost"`
	ErrorMessage string `json:"error_message"`
}

func (w *Webhook) PerformExecution(
	ctx context.Context,
	proposalID string,
	payload []byte,
) (entities.ExecutionReceipt, error) {
	if w.endpoint == "" {
		return entities.ExecutionReceipt{}, errors.New("executor webhook endpoint is not configured")
	}

	request := executeRequest{ProposalID: proposalID}
	if json.Valid(payload) {
		request.Payload = payload
	} else if len(payload) > 0 {
		request.RawPayload = payload
	}
	body, err := json.Marshal(request)
	if err != nil {
		return entities.ExecutionReceipt{}, fmt.Errorf("marshal execution request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return entities.ExecutionReceipt{}, fmt.Errorf("create execution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", proposalID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	started := time.Now()
	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Warn("executor webhook call failed",
			"event", "governance_executor_webhook_failed",
			"module", application.ModuleName,
			"layer", "adapter",
			"proposal_id", proposalID,
			"error", err.Error(),
		)
		return entities.ExecutionReceipt{}, fmt.Errorf("executor webhook: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return entities.ExecutionReceipt{}, fmt.Errorf("read executor response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Warn("executor webhook rejected execution",
			"event", "governance_executor_webhook_rejected",
			"module", application.ModuleName,
			"layer", "adapter",
			"proposal_id", proposalID,
			"status_code", resp.StatusCode,
		)
		return entities.ExecutionReceipt{}, fmt.Errorf("executor webhook returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded executeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return entities.ExecutionReceipt{}, fmt.Errorf("decode executor response: %w", err)
	}
	receipt := entities.ExecutionReceipt{
		Success:      decoded.Success,
		GasUsed:      decoded.GasUsed,
		Cost:         decimal.Zero,
		ErrorMessage: strings.TrimSpace(decoded.ErrorMessage),
	}
	if cost := strings.TrimSpace(decoded.Cost); cost != "" {
		receipt.Cost, err = decimal.NewFromString(cost)
		if err != nil {
			return entities.ExecutionReceipt{}, fmt.Errorf("decode executor cost %q: %w", cost, err)
		}
	}
	if !receipt.Success && receipt.ErrorMessage == "" {
		receipt.ErrorMessage = "executor reported failure"
	}

	w.logger.Info("executor webhook answered",
		"event", "governance_executor_webhook_answered",
		"module", application.ModuleName,
		"layer", "adapter",
		"proposal_id", proposalID,
		"success", receipt.Success,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return receipt, nil
}

var _ ports.ExecutionSink = (*Webhook)(nil)
