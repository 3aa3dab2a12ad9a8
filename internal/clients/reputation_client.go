package clients

import (
	"context"
	"fmt"

	"ledger-backend/internal/dto"
)

// NATSReputationEngine asks the reputation service to recompute a wallet's
// score over NATS request-reply
type NATSReputationEngine struct {
	nats    *NATSClient
	subject string
}

// NewNATSReputationEngine creates a reputation engine client
func NewNATSReputationEngine(nats *NATSClient) *NATSReputationEngine {
	return &NATSReputationEngine{nats: nats, subject: nats.Subjects().ReputationRecompute}
}

// RecomputeScore returns the engine's result; an error field in the reply is
// surfaced as an error so the job is retried
func (e *NATSReputationEngine) RecomputeScore(ctx context.Context, wallet string) (dto.ScoreResult, error) {
	var result dto.ScoreResult
	req := dto.ReputationRecomputeRequest{WalletAddress: wallet}
	if err := e.nats.RequestJSON(ctx, e.subject, req, &result); err != nil {
		return dto.ScoreResult{}, err
	}
	if result.Error != "" {
		return dto.ScoreResult{}, fmt.Errorf("reputation engine: %s", result.Error)
	}
	return result, nil
}
