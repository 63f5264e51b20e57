package ingestion_engine

// Heuristics holds the structural classification thresholds. Override fields
// to swap classifiers without touching the pipeline.
type Heuristics struct {
	// HeadingMinFontSize: a block is a heading when its largest font exceeds this (pt).
	HeadingMinFontSize float64
	// HeadingMaxChars: headings are shorter than this many characters.
	HeadingMaxChars int
	// OCRSamplePages: pages inspected by NeedsOCR.
	OCRSamplePages int
	// OCRMinAvgChars: below this average of raw chars per page the document is treated as scanned.
	OCRMinAvgChars float64
	// OCRMinConfidence: words under this confidence (0-100) are dropped.
	OCRMinConfidence float64
	// OCRLineThreshold: words whose top edges differ by less than this (px) share a line.
	OCRLineThreshold int
}

// DefaultHeuristics returns the thresholds used in production.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		HeadingMinFontSize: 14,
		HeadingMaxChars:    200,
		OCRSamplePages:     5,
		OCRMinAvgChars:     100,
		OCRMinConfidence:   30,
		OCRLineThreshold:   10,
	}
}

// IsHeading applies the font-size and length rule to a block.
func (h Heuristics) IsHeading(text string, maxFontSize float64) bool {
	return maxFontSize > h.HeadingMinFontSize && len([]rune(text)) < h.HeadingMaxChars
}

// NeedsOCR decides from sampled raw text lengths whether a document is scanned.
func (h Heuristics) NeedsOCR(sampleLengths []int) bool {
	if len(sampleLengths) == 0 {
		return true
	}
	total := 0
	for _, n := range sampleLengths {
		total += n
	}
	return float64(total)/float64(len(sampleLengths)) < h.OCRMinAvgChars
}
