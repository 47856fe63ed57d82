package oracle

import "testing"

func validAnswer() Answer {
	return Answer{
		Scenarios: Scenarios{
			Base: Scenario{Probability: 50},
			Bull: Scenario{Probability: 30},
			Bear: Scenario{Probability: 20},
		},
		SuggestedAction: SuggestedAction{
			Action:            "WATCH",
			InvalidationRules: []string{"rule one", "rule two"},
		},
		Disclosures: []string{"not financial advice"},
	}
}

func TestValidateAcceptsWellFormedAnswer(t *testing.T) {
	if err := Validate(validAnswer()); err != nil {
		t.Fatalf("expected valid answer to pass, got %v", err)
	}
}

func TestValidateRejectsBadProbabilitySum(t *testing.T) {
	a := validAnswer()
	a.Scenarios.Bear.Probability = 19
	if err := Validate(a); err == nil {
		t.Fatal("expected error for probabilities not summing to 100")
	}
}

func TestValidateRejectsTooFewInvalidationRules(t *testing.T) {
	a := validAnswer()
	a.SuggestedAction.InvalidationRules = []string{"only one"}
	if err := Validate(a); err == nil {
		t.Fatal("expected error for fewer than 2 invalidation rules")
	}
}

func TestValidateRejectsEmptyDisclosures(t *testing.T) {
	a := validAnswer()
	a.Disclosures = nil
	if err := Validate(a); err == nil {
		t.Fatal("expected error for empty disclosures")
	}
}

func TestValidateRejectsUnknownAction(t *testing.T) {
	a := validAnswer()
	a.SuggestedAction.Action = "YOLO"
	if err := Validate(a); err == nil {
		t.Fatal("expected error for unrecognized action enum")
	}
}
