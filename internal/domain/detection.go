package domain

import (
	"errors"
	"math"
	"sort"
	"strings"
)

// Category is the content class assigned to an image.
type Category string

const (
	CategoryPromotional    Category = "promotional"
	CategoryProductDisplay Category = "product_display"
	CategoryLifestyle      Category = "lifestyle"
	CategoryOther          Category = "other"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPromotional, CategoryProductDisplay, CategoryLifestyle, CategoryOther:
		return true
	}
	return false
}

const personLabel = "person"

var productLabels = map[string]struct{}{
	"bottle":    {},
	"cup":       {},
	"container": {},
}

var (
	// ErrMissingField marks a source record without a required key.
	ErrMissingField = errors.New("missing field")
	// ErrMalformedRecord marks a source record whose values have the wrong shape.
	ErrMalformedRecord = errors.New("malformed record")
)

// Box is a single object instance reported by a detector.
type Box struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ImageDetection is the enrichment row produced for one image.
type ImageDetection struct {
	MessageID       int64
	ChannelName     string
	DetectedObjects []string
	ConfidenceScore *float64
	ImageCategory   Category
}

// ObjectsString joins the label set with commas.
func (d ImageDetection) ObjectsString() string {
	return strings.Join(d.DetectedObjects, ",")
}

// Classify maps a label set to a category by the person/product precedence table.
func Classify(labels []string) Category {
	var hasPerson, hasProduct bool
	for _, l := range labels {
		if l == personLabel {
			hasPerson = true
		}
		if _, ok := productLabels[l]; ok {
			hasProduct = true
		}
	}

	switch {
	case hasPerson && hasProduct:
		return CategoryPromotional
	case hasProduct:
		return CategoryProductDisplay
	case hasPerson:
		return CategoryLifestyle
	default:
		return CategoryOther
	}
}

// Summarize turns raw boxes into a detection row for the given image identity.
// Labels come back de-duplicated and sorted; the score is nil when no boxes were found.
func Summarize(channel string, messageID int64, boxes []Box) ImageDetection {
	seen := make(map[string]struct{}, len(boxes))
	labels := make([]string, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
		if _, ok := seen[b.Label]; ok {
			continue
		}
		seen[b.Label] = struct{}{}
		labels = append(labels, b.Label)
	}
	sort.Strings(labels)

	det := ImageDetection{
		MessageID:       messageID,
		ChannelName:     channel,
		DetectedObjects: labels,
		ImageCategory:   Classify(labels),
	}
	if len(boxes) > 0 {
		score := RoundConfidence(sum / float64(len(boxes)))
		det.ConfidenceScore = &score
	}
	return det
}

// RoundConfidence rounds to three decimal places.
func RoundConfidence(v float64) float64 {
	return math.Round(v*1000) / 1000
}
