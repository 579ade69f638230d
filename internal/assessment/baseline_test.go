package assessment

import "testing"

func TestNextBaselineOrder(t *testing.T) {
	var history []AnswerRecord
	wantIDs := []string{BaselineSexID, BaselineAgeID, BaselineSmokingID}

	for i, want := range wantIDs {
		q, ok := NextBaseline(history, LocaleEN)
		if !ok {
			t.Fatalf("step %d: no question returned", i)
		}
		if q.ID != want {
			t.Fatalf("step %d: ID = %q, want %q", i, q.ID, want)
		}
		if q.Progress != 10*(i+1) {
			t.Errorf("step %d: Progress = %d, want %d", i, q.Progress, 10*(i+1))
		}
		assertEscapeTail(t, q.Options)
		history = append(history, AnswerRecord{QuestionID: q.ID, Value: ChoiceAnswer(q.Options[0].Value)})
	}

	if _, ok := NextBaseline(history, LocaleEN); ok {
		t.Error("expected no baseline question after all were answered")
	}
}

func TestNextBaselineByMembership(t *testing.T) {
	history := []AnswerRecord{{QuestionID: BaselineAgeID, Value: ChoiceAnswer("30-44")}}

	q, ok := NextBaseline(history, LocaleZH)
	if !ok || q.ID != BaselineSexID {
		t.Fatalf("NextBaseline = %q, %v; want %q", q.ID, ok, BaselineSexID)
	}
	if q.Text != "您的生理性别是？" {
		t.Errorf("Text = %q", q.Text)
	}
}

func TestApplyBaselineAnswer(t *testing.T) {
	d := ApplyBaselineAnswer(Demographics{}, AnswerRecord{QuestionID: BaselineSexID, Value: ChoiceAnswer("female")})
	d = ApplyBaselineAnswer(d, AnswerRecord{QuestionID: BaselineAgeID, Value: ChoiceAnswer("unknown")})
	d = ApplyBaselineAnswer(d, AnswerRecord{QuestionID: BaselineSmokingID, Value: ChoiceAnswer("former")})

	if d.Sex != "female" || d.AgeRange != "" || d.Smoking != "former" {
		t.Errorf("Demographics = %+v", d)
	}
}

func TestDifferentialProgress(t *testing.T) {
	tests := []struct{ answered, want int }{
		{4, 55},
		{11, 90},
		{12, 95},
		{40, 95},
	}
	for _, tt := range tests {
		if got := DifferentialProgress(tt.answered); got != tt.want {
			t.Errorf("DifferentialProgress(%d) = %d, want %d", tt.answered, got, tt.want)
		}
	}
	if BaselineProgress(BaselineCount-1) >= ComplaintProgress {
		t.Error("complaint progress must exceed the last baseline progress")
	}
}

func TestFallbackQuestion(t *testing.T) {
	timing := FallbackQuestion(FallbackTiming, "q_5", 55, LocaleEN)
	if timing.Type != TypeSingleChoice || timing.Category != CategoryTiming {
		t.Errorf("timing = %+v", timing)
	}
	assertEscapeTail(t, timing.Options)
	if timing.ID != "q_5" || timing.Progress != 55 {
		t.Errorf("ID/Progress = %q/%d", timing.ID, timing.Progress)
	}

	severity := FallbackQuestion(FallbackSeverity, "q_6", 60, LocaleZH)
	if severity.Type != TypeScale || severity.Min == nil || severity.Max == nil || *severity.Min != 1 || *severity.Max != 10 {
		t.Errorf("severity = %+v", severity)
	}
	if severity.Text != "症状的严重程度如何？" {
		t.Errorf("Text = %q", severity.Text)
	}
}
