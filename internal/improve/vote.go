package improve

import (
	"context"
	"fmt"

	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/pkg/models"
)

// VoteCriteria are the thresholds a vote panel must clear for a deploy.
type VoteCriteria struct {
	// ApprovalThreshold is the minimum yes-vote fraction.
	ApprovalThreshold float64
	// MaxNoVotes caps tolerated no votes regardless of approval rate.
	MaxNoVotes int
}

// CollectVotes asks each panelist to test the deployment and vote. A
// panelist that fails to answer counts as a confident no: an unreviewed
// deployment must not pass by silence.
func (e *Evaluator) CollectVotes(ctx context.Context, panel []*models.Agent, deploymentSummary string) []models.AgentVote {
	votes := make([]models.AgentVote, 0, len(panel))
	for _, agent := range panel {
		vote := models.AgentVote{AgentID: agent.ID}
		err := e.gateway.GenerateJSON(ctx, gen.Request{
			CallerID:    agent.ID,
			System:      fmt.Sprintf("You are %s, an expert %s engineer. Be thorough and critical.", agent.Name, agent.Role),
			Prompt:      votePrompt(agent, deploymentSummary),
			Temperature: 0.3,
		}, &vote)
		if err != nil {
			e.log.Warn().Err(err).Str("agent", agent.ID).Msg("panelist failed to vote")
			vote = models.AgentVote{
				AgentID:    agent.ID,
				Works:      false,
				DeployVote: "no",
				Confidence: "high",
				Notes:      fmt.Sprintf("Agent failed to provide feedback: %v", err),
			}
		}
		vote.AgentID = agent.ID
		votes = append(votes, vote)
	}
	return votes
}

func votePrompt(agent *models.Agent, deploymentSummary string) string {
	return fmt.Sprintf(`You are %s, a %s specialist in an AI development team.

A new version of the system has been deployed to the test environment:
%s

**Your Task:**
Test the new system from your %s perspective and provide feedback.

Evaluate:
1. Does the new version work correctly?
2. Any bugs or issues you noticed?
3. Performance impact (better/worse/same)?
4. Specific to your domain: any concerns?
5. Should we deploy to production? (yes/no)

Provide concise, technical feedback. Be critical - we need to catch problems now.

Format:
{
  "works": true/false,
  "bugs": ["list any bugs"],
  "performance": "better/worse/same",
  "concerns": ["domain-specific concerns"],
  "deploy_vote": "yes/no",
  "confidence": "high/medium/low",
  "notes": "additional observations"
}`, agent.Name, agent.Role, deploymentSummary, agent.Role)
}

// AnalyzeVotes computes the deploy decision over a full panel. The
// decision needs the approval rate, a clean bug slate, and a bounded no
// count all at once; every violated criterion is enumerated.
func AnalyzeVotes(votes []models.AgentVote, criteria VoteCriteria) models.VoteAnalysis {
	analysis := models.VoteAnalysis{TotalAgents: len(votes)}
	for _, v := range votes {
		switch v.DeployVote {
		case "yes":
			analysis.YesVotes++
		case "no":
			analysis.NoVotes++
		}
		analysis.BugCount += len(v.Bugs)
	}
	if analysis.TotalAgents > 0 {
		analysis.ApprovalRate = float64(analysis.YesVotes) / float64(analysis.TotalAgents)
	}

	analysis.Passed = analysis.ApprovalRate >= criteria.ApprovalThreshold &&
		analysis.BugCount == 0 &&
		analysis.NoVotes <= criteria.MaxNoVotes

	if !analysis.Passed {
		if analysis.ApprovalRate < criteria.ApprovalThreshold {
			analysis.FailureReasons = append(analysis.FailureReasons,
				fmt.Sprintf("Approval rate %.1f%% below threshold %.1f%%", analysis.ApprovalRate*100, criteria.ApprovalThreshold*100))
		}
		if analysis.BugCount > 0 {
			analysis.FailureReasons = append(analysis.FailureReasons,
				fmt.Sprintf("%d bugs reported by panel", analysis.BugCount))
		}
		if analysis.NoVotes > criteria.MaxNoVotes {
			analysis.FailureReasons = append(analysis.FailureReasons,
				fmt.Sprintf("%d agents voted NO", analysis.NoVotes))
		}
	}
	return analysis
}
