package scoring

import (
	"verifai/internal/domain"
)

// BuildReport assembles a completed report. It performs no I/O; the only
// error it returns is a contract violation on the likelihood score.
func BuildReport(jobID string, likelihood *int, metadata domain.Metadata, provenance domain.Provenance) (domain.AnalysisReport, error) {
	confidence, err := ComputeConfidence(likelihood, metadata, provenance)
	if err != nil {
		return domain.AnalysisReport{}, err
	}
	verdict := VerdictText(likelihood)

	var score *int
	if likelihood != nil {
		score = domain.Likelihood(*likelihood)
	}

	return domain.AnalysisReport{
		JobID:        jobID,
		Status:       domain.JobStatusDone,
		AILikelihood: score,
		Confidence:   &confidence,
		VerdictText:  &verdict,
		Evidence:     BuildEvidence(likelihood, metadata, provenance),
		Provenance:   provenance.Clone(),
		Metadata:     metadata.Clone(),
		Limitations:  BuildLimitations(likelihood, metadata),
	}, nil
}
