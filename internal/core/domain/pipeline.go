package domain

import "time"

// PipelineLimits bounds each blocking stage of one pipeline invocation.
type PipelineLimits struct {
	OCRTimeout      time.Duration
	VisionTimeout   time.Duration
	ClassifyTimeout time.Duration
	WriteTimeout    time.Duration
}

const (
	StageOCR      = "ocr"
	StageVision   = "vision"
	StageClassify = "classify"
	StageWrite    = "write"
)
