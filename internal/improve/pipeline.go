package improve

import (
	"context"
	"fmt"
	"time"

	"github.com/foremanhq/foreman/internal/envs"
	"github.com/foremanhq/foreman/internal/gen"
	"github.com/foremanhq/foreman/internal/roster"
	"github.com/foremanhq/foreman/pkg/models"
)

const (
	improverID = "self_improver"
	// ImprovementComponent names the system itself in the environment
	// manager, so improvement builds share the normal deploy machinery.
	ImprovementComponent = "foreman"
)

// PipelineConfig carries the improvement decision thresholds.
type PipelineConfig struct {
	// ScoreThreshold skips the cycle when the evaluation scores at or
	// above it.
	ScoreThreshold int
	// PanelSize is how many agents vote on a test deployment.
	PanelSize int
	// Criteria are the vote decision thresholds.
	Criteria VoteCriteria
}

// Pipeline runs full improvement cycles.
type Pipeline struct {
	evaluator *Evaluator
	envs      *envs.Manager
	roster    *roster.Roster
	cfg       PipelineConfig
}

// NewPipeline creates an improvement pipeline.
func NewPipeline(evaluator *Evaluator, envMgr *envs.Manager, r *roster.Roster, cfg PipelineConfig) *Pipeline {
	return &Pipeline{evaluator: evaluator, envs: envMgr, roster: r, cfg: cfg}
}

// Run executes one improvement cycle for an evaluation: generate
// proposals, deploy them to TEST, collect the panel vote, and decide.
// Every cycle persists a full audit record whatever the outcome.
func (p *Pipeline) Run(ctx context.Context, eval *models.Evaluation) (*models.ImprovementCycle, error) {
	cycle := &models.ImprovementCycle{
		ID:           "IMPROVE-" + time.Now().Format("20060102-150405"),
		Timestamp:    time.Now(),
		EvaluationID: eval.ID,
		Score:        eval.Score,
	}
	log := p.evaluator.log

	if eval.Score >= p.cfg.ScoreThreshold {
		log.Info().Int("score", eval.Score).Msg("score above threshold, no improvements needed")
		cycle.Status = models.CycleStatusSkipped
		return cycle, saveCycle(p.evaluator.db, cycle)
	}

	proposals, err := p.generateProposals(ctx, eval)
	if err != nil {
		return p.fail(cycle, err)
	}
	if len(proposals) == 0 {
		log.Info().Msg("no safe improvements proposed, skipping cycle")
		cycle.Status = models.CycleStatusSkipped
		return cycle, saveCycle(p.evaluator.db, cycle)
	}
	cycle.Proposals = proposals

	version := "improve-" + cycle.ID
	testDeploy, err := p.envs.DeployToTest(ImprovementComponent, version, improverID)
	if err != nil {
		return p.fail(cycle, fmt.Errorf("deploy improvements to test: %w", err))
	}
	cycle.TestDeploymentID = testDeploy.ID

	panel := p.roster.Panel(p.cfg.PanelSize)
	summary := deploymentSummary(cycle, proposals)
	cycle.Votes = p.evaluator.CollectVotes(ctx, panel, summary)
	cycle.Analysis = AnalyzeVotes(cycle.Votes, p.cfg.Criteria)
	cycle.FailureReasons = cycle.Analysis.FailureReasons

	if cycle.Analysis.Passed {
		prodDeploy, err := p.envs.Promote(ImprovementComponent, version, improverID)
		if err != nil {
			return p.fail(cycle, fmt.Errorf("promote improvements: %w", err))
		}
		cycle.ProductionDeploymentID = prodDeploy.ID
		cycle.Status = models.CycleStatusDeployed
		log.Info().
			Str("cycle", cycle.ID).
			Float64("approval", cycle.Analysis.ApprovalRate).
			Msg("improvement cycle passed, promoting")
	} else {
		cycle.Status = models.CycleStatusFailed
		if _, err := p.envs.Rollback(models.EnvTest, ImprovementComponent, improverID); err != nil {
			// First-ever improvement has no prior version; the failed
			// build simply stays quarantined in TEST.
			log.Warn().Err(err).Msg("test rollback unavailable")
		}
		log.Warn().
			Str("cycle", cycle.ID).
			Strs("reasons", cycle.FailureReasons).
			Msg("improvement cycle rejected")
	}

	return cycle, saveCycle(p.evaluator.db, cycle)
}

// fail closes a cycle that broke mid-flight. The audit row is written
// with the failure reason even though the cycle never reached a vote.
func (p *Pipeline) fail(cycle *models.ImprovementCycle, cause error) (*models.ImprovementCycle, error) {
	cycle.Status = models.CycleStatusFailed
	cycle.FailureReasons = append(cycle.FailureReasons, cause.Error())
	if err := saveCycle(p.evaluator.db, cycle); err != nil {
		p.evaluator.log.Warn().Err(err).Str("cycle", cycle.ID).Msg("could not persist failed cycle")
	}
	return nil, cause
}

func (p *Pipeline) generateProposals(ctx context.Context, eval *models.Evaluation) ([]models.ImprovementProposal, error) {
	var out struct {
		Skip         bool                         `json:"skip"`
		Improvements []models.ImprovementProposal `json:"improvements"`
	}
	err := p.evaluator.gateway.GenerateJSON(ctx, gen.Request{
		CallerID:    improverID,
		System:      "You are a cautious, world-class engineer who improves systems incrementally and safely.",
		Prompt:      proposalPrompt(eval),
		Temperature: 0.2,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("generate improvements: %w", err)
	}
	if out.Skip {
		return nil, nil
	}
	return out.Improvements, nil
}

func proposalPrompt(eval *models.Evaluation) string {
	return fmt.Sprintf(`You are a world-class engineer tasked with improving an autonomous AI team system.

**Current Evaluation:**
Score: %d/100
%s

**Your Task:**
Analyze the evaluation and generate SPECIFIC, ACTIONABLE code improvements.

For each improvement:
1. **File to modify** (exact path)
2. **What to change** (specific function or component)
3. **Why** (addresses which weakness)
4. **Risk level** (low/medium/high)

Focus on the TOP 3 weaknesses mentioned in the evaluation.

Provide improvements in this JSON format:
{
  "improvements": [
    {
      "file": "internal/orchestrator/run_loop.go",
      "change_description": "what to change",
      "reasoning": "addresses which weakness",
      "risk_level": "low"
    }
  ]
}

Be conservative. Only suggest changes that:
- Are LOW RISK
- Address specific evaluation weaknesses
- Have clear expected benefits
- Won't break existing functionality

If improvements aren't necessary or safe, return: {"skip": true}`, eval.Score, eval.Text)
}

func deploymentSummary(cycle *models.ImprovementCycle, proposals []models.ImprovementProposal) string {
	s := fmt.Sprintf("Improvement cycle %s (evaluation score %d/100) changed:\n", cycle.ID, cycle.Score)
	for _, p := range proposals {
		s += fmt.Sprintf("- %s: %s (%s risk)\n", p.File, p.Change, p.RiskLevel)
	}
	return s
}
