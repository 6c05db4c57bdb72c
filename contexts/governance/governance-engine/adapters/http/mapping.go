package httpadapter

import (
	"agora/contexts/governance/governance-engine/application/commands"
	"agora/contexts/governance/governance-engine/domain/entities"
	httptransport "agora/contexts/governance/governance-engine/transport/http"
)

func mapRule(rule entities.GovernanceRule) httptransport.RuleResponse {
	return httptransport.RuleResponse{
		RuleID:                   rule.RuleID,
		ProposalType:             string(rule.ProposalType),
		Version:                  rule.Version,
		MinimumQuorumPercent:     rule.MinimumQuorumPercent.String(),
		ApprovalThresholdPercent: rule.ApprovalThresholdPercent.String(),
		VotingPeriodSeconds:      int64(rule.VotingPeriod.Seconds()),
		ExecutionDelaySeconds:    int64(rule.ExecutionDelay.Seconds()),
		RequiresMultiSig:         rule.RequiresMultiSig,
		RequiredSignatures:       rule.RequiredSignatures,
		AllowDelegation:          rule.AllowDelegation,
		AllowZeroPowerVotes:      rule.AllowZeroPowerVotes,
		MinimumTokensToPropose:   rule.MinimumTokensToPropose.String(),
		ProposalDeposit:          rule.ProposalDeposit.String(),
		IsActive:                 rule.IsActive,
		CreatedBy:                rule.CreatedBy,
		CreatedAt:                rule.CreatedAt,
		UpdatedAt:                rule.UpdatedAt,
		DeactivatedAt:            rule.DeactivatedAt,
	}
}

func mapProposal(proposal entities.Proposal) httptransport.ProposalResponse {
	response := httptransport.ProposalResponse{
		ProposalID:     proposal.ProposalID,
		ProposalType:   string(proposal.ProposalType),
		Title:          proposal.Title,
		Description:    proposal.Description,
		Payload:        proposal.Payload,
		CreatorID:      proposal.CreatorID,
		Status:         string(proposal.Status),
		RuleID:         proposal.Rule.RuleID,
		RuleVersion:    proposal.Rule.RuleVersion,
		DepositAmount:  proposal.DepositAmount.String(),
		CreatedAt:      proposal.CreatedAt,
		VotingOpensAt:  proposal.VotingOpensAt,
		VotingClosesAt: proposal.VotingClosesAt,
		ResolvedAt:     proposal.ResolvedAt,
		CancelledAt:    proposal.CancelledAt,
		ExecutedAt:     proposal.ExecutedAt,
	}
	if proposal.FinalTally != nil {
		tally := mapTally(*proposal.FinalTally)
		response.FinalTally = &tally
	}
	return response
}

func mapTally(tally entities.Tally) httptransport.TallyResponse {
	return httptransport.TallyResponse{
		ProposalID:         tally.ProposalID,
		ForPower:           tally.ForPower.String(),
		AgainstPower:       tally.AgainstPower.String(),
		AbstainPower:       tally.AbstainPower.String(),
		ParticipatingPower: tally.ParticipatingPower.String(),
		TotalEligiblePower: tally.TotalEligiblePower.String(),
		VoterCount:         tally.VoterCount,
		QuorumPercent:      tally.QuorumPercent.StringFixed(4),
		ApprovalPercent:    tally.ApprovalPercent.StringFixed(4),
		QuorumReached:      tally.QuorumReached,
		ApprovalReached:    tally.ApprovalReached,
		Passed:             tally.Passed(),
		ComputedAt:         tally.ComputedAt,
	}
}

func mapVote(vote entities.Vote) httptransport.VoteResponse {
	return httptransport.VoteResponse{
		VoteID:            vote.VoteID,
		ProposalID:        vote.ProposalID,
		VoterID:           vote.VoterID,
		Choice:            string(vote.Choice),
		VotingPowerAtCast: vote.VotingPowerAtCast.String(),
		BasePowerAtCast:   vote.BasePowerAtCast.String(),
		ReceivedAtCast:    vote.ReceivedAtCast.String(),
		Reason:            vote.Reason,
		CastAt:            vote.CastAt,
	}
}

func mapDelegation(delegation entities.VotingDelegation) httptransport.DelegationResponse {
	return httptransport.DelegationResponse{
		DelegationID: delegation.DelegationID,
		DelegatorID:  delegation.DelegatorID,
		DelegateID:   delegation.DelegateID,
		Scope:        delegation.Scope.String(),
		IsActive:     delegation.IsActive,
		CreatedAt:    delegation.CreatedAt,
		RevokedAt:    delegation.RevokedAt,
		RevokeReason: delegation.RevokeReason,
	}
}

func mapExecution(execution entities.ProposalExecution) httptransport.ExecutionResponse {
	response := httptransport.ExecutionResponse{
		ExecutionID:  execution.ExecutionID,
		ProposalID:   execution.ProposalID,
		Status:       string(execution.Status),
		ScheduledAt:  execution.ScheduledAt,
		ExecutedAt:   execution.ExecutedAt,
		ExecutorID:   execution.ExecutorID,
		RetryCount:   execution.RetryCount,
		MaxRetries:   execution.MaxRetries,
		ErrorMessage: execution.ErrorMessage,
		GasUsed:      execution.GasUsed,
		Signatures:   make([]httptransport.SignatureResponse, 0, len(execution.Signatures)),
		Attempts:     make([]httptransport.AttemptResponse, 0, len(execution.Attempts)),
	}
	if execution.ExecutionCost != nil {
		cost := execution.ExecutionCost.String()
		response.ExecutionCost = &cost
	}
	for _, signature := range execution.Signatures {
		response.Signatures = append(response.Signatures, httptransport.SignatureResponse{
			SignerID: signature.SignerID,
			SignedAt: signature.SignedAt,
		})
	}
	for _, attempt := range execution.Attempts {
		response.Attempts = append(response.Attempts, httptransport.AttemptResponse{
			AttemptNumber: attempt.AttemptNumber,
			ExecutorID:    attempt.ExecutorID,
			Succeeded:     attempt.Succeeded,
			ErrorMessage:  attempt.ErrorMessage,
			GasUsed:       attempt.GasUsed,
			Cost:          attempt.Cost.String(),
			StartedAt:     attempt.StartedAt,
			FinishedAt:    attempt.FinishedAt,
		})
	}
	return response
}

// mapOutcome keeps the recorded attempt visible even when the sink failed.
func mapOutcome(result commands.ExecutionResult) httptransport.ExecutionOutcomeResponse {
	return httptransport.ExecutionOutcomeResponse{
		Execution:      mapExecution(result.Execution),
		ProposalStatus: string(result.ProposalStatus),
	}
}
