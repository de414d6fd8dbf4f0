package scoring

import (
	"fmt"

	"verifai/internal/domain"
)

// Mandatory disclaimers present on every completed report, in this order.
const (
	LimitationModelFallibility = "AI-detection models can produce false positives and false negatives; this result should not be treated as definitive proof."
	LimitationPostProcessing   = "Heavy post-processing (resizing, re-encoding, screenshots) degrades detection accuracy."
)

const (
	LimitationDetectorUnavailable = "The AI-detection model was unavailable; the report is based solely on metadata and provenance signals."
	LimitationSmallImage          = "The image is very small, which significantly reduces detection accuracy."
	LimitationScreenshot          = "The image appears to be a screenshot; detection models perform poorly on screen-captured content."
)

// BuildEvidence lists observations in a fixed order: score, EXIF, software,
// provenance, dimensions, screenshot.
func BuildEvidence(likelihood *int, metadata domain.Metadata, provenance domain.Provenance) []string {
	evidence := make([]string, 0, 6)

	if likelihood != nil {
		evidence = append(evidence, fmt.Sprintf("AI detection model returned a score of %d/100.", *likelihood))
	} else {
		evidence = append(evidence, "AI detection model did not return a score.")
	}

	switch {
	case !metadata.HasEXIF:
		evidence = append(evidence, "No EXIF metadata found in the image.")
	case metadata.CameraMakeModel != nil:
		evidence = append(evidence, fmt.Sprintf("EXIF data indicates the image was captured by %s.", *metadata.CameraMakeModel))
	default:
		evidence = append(evidence, "EXIF data is present but does not include camera make/model.")
	}

	if metadata.SoftwareTag != nil {
		evidence = append(evidence, fmt.Sprintf("Software tag detected: %s.", *metadata.SoftwareTag))
	}

	if provenance.C2PAPresent {
		validity := "invalid or unverifiable"
		if provenance.C2PAValid != nil && *provenance.C2PAValid {
			validity = "valid"
		}
		evidence = append(evidence, fmt.Sprintf("C2PA content credentials found (%s).", validity))
	} else {
		evidence = append(evidence, "No C2PA content credentials found.")
	}

	evidence = append(evidence, fmt.Sprintf("Image is %dx%d pixels in %s format.", metadata.Width, metadata.Height, metadata.Format))

	if IsScreenshotLike(metadata) {
		evidence = append(evidence, "Image appears to be a screenshot, which reduces detection reliability.")
	}
	return evidence
}

// BuildLimitations always starts with the two mandatory disclaimers and then
// appends caveats for the conditions that weaken this particular report.
func BuildLimitations(likelihood *int, metadata domain.Metadata) []string {
	limitations := []string{LimitationModelFallibility, LimitationPostProcessing}
	if likelihood == nil {
		limitations = append(limitations, LimitationDetectorUnavailable)
	}
	if IsSmallImage(metadata) {
		limitations = append(limitations, LimitationSmallImage)
	}
	if IsScreenshotLike(metadata) {
		limitations = append(limitations, LimitationScreenshot)
	}
	return limitations
}
