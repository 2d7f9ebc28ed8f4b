package annotate

import (
	"errors"
	"testing"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
)

func TestDefaultPolicy(t *testing.T) {
	unavailable := inference.Unavailablef("timeout")
	failed := inference.Malformedf("empty")

	tests := []struct {
		stage       Stage
		unavailable Action
		failed      Action
	}{
		{StageCaption, Abort, Sentinel},
		{StageCaptionTranslation, Abort, Passthrough},
		{StageDetection, Sentinel, Sentinel},
		{StageObjectsTranslation, Abort, Passthrough},
		{StageTextExtraction, Sentinel, Sentinel},
	}

	policy := DefaultPolicy()
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			if got := policy.Action(tt.stage, unavailable); got != tt.unavailable {
				t.Errorf("Expected %s for unavailable, got %s", tt.unavailable, got)
			}
			if got := policy.Action(tt.stage, failed); got != tt.failed {
				t.Errorf("Expected %s for failed, got %s", tt.failed, got)
			}
		})
	}

	if len(policy) != len(tests) {
		t.Errorf("Expected %d stages, got %d", len(tests), len(policy))
	}
}

func TestPolicyResolve(t *testing.T) {
	policy := DefaultPolicy()

	value, err := policy.Resolve(StageCaption, stageResult{value: "a dog"}, "")
	if err != nil || value != "a dog" {
		t.Errorf("Expected success value, got %q, %v", value, err)
	}

	value, err = policy.Resolve(StageCaption, stageResult{err: inference.Malformedf("empty")}, "")
	if err != nil || value != NoDescription {
		t.Errorf("Expected %q, got %q, %v", NoDescription, value, err)
	}

	value, err = policy.Resolve(StageObjectsTranslation, stageResult{err: errors.New("bad output")}, "dog, person")
	if err != nil || value != "dog, person" {
		t.Errorf("Expected passthrough, got %q, %v", value, err)
	}

	_, err = policy.Resolve(StageCaptionTranslation, stageResult{err: inference.Unavailablef("503")}, "a dog")
	if !errors.Is(err, inference.ErrServiceUnavailable) {
		t.Errorf("Expected ErrServiceUnavailable, got %v", err)
	}

	_, err = Policy{}.Resolve(StageDetection, stageResult{err: errors.New("boom")}, "")
	if !errors.Is(err, inference.ErrServiceUnavailable) {
		t.Errorf("Expected stages missing from the table to abort, got %v", err)
	}
}
