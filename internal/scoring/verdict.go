package scoring

const (
	VerdictUnavailable     = "Unable to determine AI likelihood. The detection model did not produce a score for this image."
	VerdictLikelyAI        = "This image is likely AI-generated."
	VerdictSomeIndicators  = "This image shows some indicators of AI generation."
	VerdictInconclusive    = "The analysis is inconclusive for this image."
	VerdictFewIndicators   = "This image shows few indicators of AI generation."
	VerdictLikelyAuthentic = "This image is likely authentic."
)

type verdictBand struct {
	min  int
	text string
}

// Lower edges are inclusive; anything below the last edge is authentic.
var verdictBands = []verdictBand{
	{min: 80, text: VerdictLikelyAI},
	{min: 60, text: VerdictSomeIndicators},
	{min: 40, text: VerdictInconclusive},
	{min: 20, text: VerdictFewIndicators},
}

// VerdictText maps a likelihood score onto one of the fixed verdict sentences.
func VerdictText(likelihood *int) string {
	if likelihood == nil {
		return VerdictUnavailable
	}
	for _, band := range verdictBands {
		if *likelihood >= band.min {
			return band.text
		}
	}
	return VerdictLikelyAuthentic
}
