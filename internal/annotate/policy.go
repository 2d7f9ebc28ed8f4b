package annotate

import (
	"fmt"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
)

// Stage names one backend call of the pipeline
type Stage string

const (
	StageCaption            Stage = "caption"
	StageCaptionTranslation Stage = "caption_translation"
	StageDetection          Stage = "detection"
	StageObjectsTranslation Stage = "objects_translation"
	StageTextExtraction     Stage = "text_extraction"
)

// Sentinel values used when a stage produces nothing usable
const (
	NoDescription = "No description generated"
	NoObjects     = "No objects detected"
	NoText        = "No text detected"
)

// Action is what the pipeline does with a failed stage
type Action int

const (
	// Abort fails the whole call with inference.ErrServiceUnavailable
	Abort Action = iota
	// Sentinel replaces the stage output with the rule's sentinel
	Sentinel
	// Passthrough keeps the stage input, e.g. the untranslated text
	Passthrough
)

func (a Action) String() string {
	switch a {
	case Abort:
		return "abort"
	case Sentinel:
		return "sentinel"
	case Passthrough:
		return "passthrough"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Rule maps the two failure classes of one stage onto actions
type Rule struct {
	Unavailable Action
	Failed      Action
	Sentinel    string
}

// Policy is the stage x failure class table
type Policy map[Stage]Rule

// DefaultPolicy returns the production table. Caption and translation
// outages make the request unavailable; detection and text extraction
// degrade to sentinels.
func DefaultPolicy() Policy {
	return Policy{
		StageCaption:            {Unavailable: Abort, Failed: Sentinel, Sentinel: NoDescription},
		StageCaptionTranslation: {Unavailable: Abort, Failed: Passthrough},
		StageDetection:          {Unavailable: Sentinel, Failed: Sentinel, Sentinel: NoObjects},
		StageObjectsTranslation: {Unavailable: Abort, Failed: Passthrough},
		StageTextExtraction:     {Unavailable: Sentinel, Failed: Sentinel, Sentinel: NoText},
	}
}

// Action returns the action for a stage error. Stages missing from the
// table abort.
func (p Policy) Action(stage Stage, err error) Action {
	rule, ok := p[stage]
	if !ok {
		return Abort
	}
	if inference.Classify(err) == inference.Unavailable {
		return rule.Unavailable
	}
	return rule.Failed
}

// Resolve returns the stage output to keep. input is what the stage
// received and is returned on Passthrough.
func (p Policy) Resolve(stage Stage, res stageResult, input string) (string, error) {
	if res.err == nil {
		return res.value, nil
	}
	switch p.Action(stage, res.err) {
	case Sentinel:
		return p[stage].Sentinel, nil
	case Passthrough:
		return input, nil
	default:
		return "", fmt.Errorf("%s: %w: %w", stage, inference.ErrServiceUnavailable, res.err)
	}
}

// stageResult is the raw outcome of one backend call
type stageResult struct {
	value string
	err   error
}
