package domain

import (
	"fmt"
	"strings"
)

// QualityLevel selects the upscale factor and cost of the enhancement pass.
// Levels are ordered; Standard is the lowest tier.
type QualityLevel int

const (
	QualityStandard QualityLevel = iota
	QualityAuto
	Quality4K
	Quality6K
	Quality8K
)

// CostClass is a coarse estimate of how expensive a quality level is
type CostClass int

const (
	CostLow CostClass = iota
	CostMedium
	CostHigh
	CostUltra
)

const (
	autoMinScale = 1.0
	autoMaxScale = 2.0
)

var qualityNames = map[QualityLevel]string{
	QualityStandard: "standard",
	QualityAuto:     "auto",
	Quality4K:       "4k",
	Quality6K:       "6k",
	Quality8K:       "8k",
}

func (q QualityLevel) String() string {
	if name, ok := qualityNames[q]; ok {
		return name
	}
	return fmt.Sprintf("quality(%d)", int(q))
}

// ParseQuality maps a configuration string to a QualityLevel
func ParseQuality(s string) (QualityLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for q, name := range qualityNames {
		if name == s {
			return q, nil
		}
	}
	return QualityStandard, fmt.Errorf("unknown quality %q", s)
}

// Valid reports whether q is one of the defined levels
func (q QualityLevel) Valid() bool {
	return q >= QualityStandard && q <= Quality8K
}

// Scale returns the upscale factor. Auto scales with how much detail the
// source has beyond the working canvas: nativeWidth/workWidth clamped to [1,2].
func (q QualityLevel) Scale(nativeWidth, workWidth int) float64 {
	switch q {
	case QualityAuto:
		if workWidth <= 0 || nativeWidth <= 0 {
			return autoMinScale
		}
		s := float64(nativeWidth) / float64(workWidth)
		if s < autoMinScale {
			return autoMinScale
		}
		if s > autoMaxScale {
			return autoMaxScale
		}
		return s
	case Quality4K:
		return 3.0
	case Quality6K:
		return 3.5
	case Quality8K:
		return 4.0
	default:
		return 1.0
	}
}

// Cost returns the cost class of the level
func (q QualityLevel) Cost() CostClass {
	switch q {
	case QualityAuto:
		return CostMedium
	case Quality4K:
		return CostHigh
	case Quality6K, Quality8K:
		return CostUltra
	default:
		return CostLow
	}
}

// StepDown returns the next lower tier, never below Standard
func (q QualityLevel) StepDown() QualityLevel {
	if q <= QualityStandard {
		return QualityStandard
	}
	return q - 1
}

// StepUp returns the next higher tier, never above ceiling
func (q QualityLevel) StepUp(ceiling QualityLevel) QualityLevel {
	if q >= ceiling {
		return ceiling
	}
	return q + 1
}

// Algorithm is the closed set of enhancement variants
type Algorithm int

const (
	AlgorithmLuminance Algorithm = iota
	AlgorithmAverage
	AlgorithmLightness
	AlgorithmCustom
	AlgorithmAdaptive4K
	AlgorithmNeuralUpscale
	AlgorithmSuperResolution
	AlgorithmEdgeEnhanced

	algorithmCount
)

var algorithmNames = [algorithmCount]string{
	AlgorithmLuminance:       "luminance",
	AlgorithmAverage:         "average",
	AlgorithmLightness:       "lightness",
	AlgorithmCustom:          "custom",
	AlgorithmAdaptive4K:      "adaptive_4k",
	AlgorithmNeuralUpscale:   "neural_upscale",
	AlgorithmSuperResolution: "super_resolution",
	AlgorithmEdgeEnhanced:    "edge_enhanced",
}

// AlgorithmCount is the number of defined algorithms
const AlgorithmCount = int(algorithmCount)

func (a Algorithm) String() string {
	if a.Valid() {
		return algorithmNames[a]
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

// Valid reports whether a is a defined algorithm
func (a Algorithm) Valid() bool {
	return a >= 0 && a < algorithmCount
}

// Spatial reports whether the algorithm filters neighbourhoods and honours
// the quality scale. Per-pixel algorithms always run at scale 1.
func (a Algorithm) Spatial() bool {
	return a >= AlgorithmAdaptive4K && a < algorithmCount
}

// ParseAlgorithm maps a configuration string to an Algorithm.
// "custom_weighted" is accepted as an alias of "custom".
func ParseAlgorithm(s string) (Algorithm, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "custom_weighted" {
		return AlgorithmCustom, nil
	}
	for i, name := range algorithmNames {
		if name == s {
			return Algorithm(i), nil
		}
	}
	return AlgorithmLuminance, fmt.Errorf("unknown algorithm %q", s)
}

// DropPolicy decides what a full frame buffer does with a new frame
type DropPolicy int

const (
	// DropOldest evicts the oldest queued frame and admits the new one
	DropOldest DropPolicy = iota
	// BlockProducer makes the producer wait for free space
	BlockProducer
)

func (p DropPolicy) String() string {
	if p == BlockProducer {
		return "block"
	}
	return "drop-oldest"
}

// ParseDropPolicy maps a configuration string to a DropPolicy
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop-oldest", "drop_oldest", "dropoldest", "drop":
		return DropOldest, nil
	case "block", "block-producer", "block_producer", "blockproducer":
		return BlockProducer, nil
	default:
		return DropOldest, fmt.Errorf("unknown drop policy %q", s)
	}
}
