// Package scoring turns the three analysis signals (AI likelihood, image
// metadata and provenance) into a confidence tier, a verdict sentence and the
// evidence and limitation lists of a report. Everything here is pure.
package scoring

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"verifai/internal/domain"
)

// MinReliableDimension is the smallest width/height the detector is trusted on.
const MinReliableDimension = 256

var screenshotSoftwareHints = []string{
	"screenshot",
	"snipping tool",
	"snagit",
	"greenshot",
	"lightshot",
	"sharex",
}

var goodQualityFormats = map[string]struct{}{
	"JPEG": {},
	"TIFF": {},
	"PNG":  {},
	"WEBP": {},
}

// Signals bundles the inputs every confidence rule is evaluated against.
type Signals struct {
	Likelihood *int
	Metadata   domain.Metadata
	Provenance domain.Provenance
}

// Rule is one entry of the confidence decision list.
type Rule struct {
	Name  string
	Tier  domain.ConfidenceTier
	Match func(Signals) bool
}

// Low rules come first: a reason to distrust the verdict always beats a
// reason to trust it.
var confidenceRules = []Rule{
	{Name: "detector-unavailable", Tier: domain.ConfidenceLow, Match: detectorUnavailable},
	{Name: "small-image", Tier: domain.ConfidenceLow, Match: func(s Signals) bool { return IsSmallImage(s.Metadata) }},
	{Name: "screenshot", Tier: domain.ConfidenceLow, Match: func(s Signals) bool { return IsScreenshotLike(s.Metadata) }},
	{Name: "uncorroborated-midrange", Tier: domain.ConfidenceLow, Match: uncorroboratedMidrange},
	{Name: "c2pa-declares-ai", Tier: domain.ConfidenceHigh, Match: c2paDeclaresAI},
	{Name: "strong-ai-score", Tier: domain.ConfidenceHigh, Match: strongAIScore},
	{Name: "strong-authentic-score", Tier: domain.ConfidenceHigh, Match: strongAuthenticScore},
	{Name: "default", Tier: domain.ConfidenceMedium, Match: func(Signals) bool { return true }},
}

// Rules returns the confidence decision list in evaluation order.
func Rules() []Rule {
	return append([]Rule(nil), confidenceRules...)
}

// ComputeConfidence evaluates the decision list and returns the tier of the
// first matching rule.
func ComputeConfidence(likelihood *int, metadata domain.Metadata, provenance domain.Provenance) (domain.ConfidenceTier, error) {
	rule, err := MatchRule(likelihood, metadata, provenance)
	if err != nil {
		return "", err
	}
	return rule.Tier, nil
}

// MatchRule returns the first rule that fires for the given signals.
func MatchRule(likelihood *int, metadata domain.Metadata, provenance domain.Provenance) (Rule, error) {
	if err := ValidateLikelihood(likelihood); err != nil {
		return Rule{}, err
	}
	s := Signals{Likelihood: likelihood, Metadata: metadata, Provenance: provenance}
	for _, rule := range confidenceRules {
		if rule.Match(s) {
			return rule, nil
		}
	}
	// unreachable: the default rule always matches
	return confidenceRules[len(confidenceRules)-1], nil
}

// ValidateLikelihood rejects scores outside [0,100]. The detector clamps its
// own output, so an out-of-range value here is a broken contract.
func ValidateLikelihood(likelihood *int) error {
	if likelihood == nil {
		return nil
	}
	if v := *likelihood; v < 0 || v > 100 {
		return fmt.Errorf("%w: ai likelihood %d outside [0,100]", domain.ErrContractViolation, v)
	}
	return nil
}

// IsSmallImage reports whether either dimension is below MinReliableDimension.
func IsSmallImage(m domain.Metadata) bool {
	return m.Width < MinReliableDimension || m.Height < MinReliableDimension
}

// IsScreenshotLike guesses whether the image is a screen capture: a known
// capture tool in the software tag, or a PNG without any EXIF.
func IsScreenshotLike(m domain.Metadata) bool {
	if m.SoftwareTag != nil {
		tag := fold(*m.SoftwareTag)
		for _, hint := range screenshotSoftwareHints {
			if strings.Contains(tag, hint) {
				return true
			}
		}
	}
	return m.Format == "PNG" && !m.HasEXIF
}

// IsGoodQuality reports whether the image is large enough and in a format the
// detector was trained on.
func IsGoodQuality(m domain.Metadata) bool {
	if IsSmallImage(m) {
		return false
	}
	_, ok := goodQualityFormats[m.Format]
	return ok
}

func detectorUnavailable(s Signals) bool {
	return s.Likelihood == nil
}

func uncorroboratedMidrange(s Signals) bool {
	if s.Likelihood == nil {
		return false
	}
	v := *s.Likelihood
	return !s.Metadata.HasEXIF && !s.Provenance.C2PAPresent && v >= 30 && v <= 70
}

func c2paDeclaresAI(s Signals) bool {
	p := s.Provenance
	if !p.C2PAPresent || p.C2PAValid == nil || !*p.C2PAValid {
		return false
	}
	for _, note := range p.Notes {
		if strings.Contains(fold(note), "ai") {
			return true
		}
	}
	return false
}

func strongAIScore(s Signals) bool {
	return s.Likelihood != nil && *s.Likelihood >= 90 && IsGoodQuality(s.Metadata)
}

func strongAuthenticScore(s Signals) bool {
	return s.Likelihood != nil && *s.Likelihood <= 10 && s.Metadata.HasEXIF && IsGoodQuality(s.Metadata)
}

// fold applies Unicode case folding; a Caser is stateful so one is built per call.
func fold(s string) string {
	return cases.Fold().String(s)
}
