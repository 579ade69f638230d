package assessment

import "testing"

func TestSynthesizeRanksAndFlags(t *testing.T) {
	draft := ReportDraft{
		Conditions: []Condition{
			{Name: "tension headache", Probability: 40},
			{Name: "migraine", Probability: 70},
			{Name: "sinusitis", Probability: 40},
			{Name: "cluster headache", Probability: 10},
		},
		Urgency:   UrgencyRoutine,
		NextSteps: []NextStep{{Action: "rest", Icon: "🛏️"}},
	}

	r := Synthesize(draft, LocaleEN)

	wantOrder := []string{"migraine", "tension headache", "sinusitis", "cluster headache"}
	for i, name := range wantOrder {
		if r.Conditions[i].Name != name {
			t.Errorf("Conditions[%d] = %q, want %q", i, r.Conditions[i].Name, name)
		}
	}
	best := 0
	for i, c := range r.Conditions {
		if c.IsBestMatch {
			best++
			if i != 0 {
				t.Errorf("best match at index %d", i)
			}
		}
	}
	if best != 1 {
		t.Errorf("best match count = %d, want 1", best)
	}
	if r.Urgency != UrgencyRoutine || len(r.NextSteps) != 1 {
		t.Errorf("urgency/next steps not passed through: %+v", r)
	}
	if r.Disclaimer != Disclaimer(LocaleEN) {
		t.Errorf("Disclaimer = %q", r.Disclaimer)
	}
	if draft.Conditions[0].Name != "tension headache" || draft.Conditions[1].IsBestMatch {
		t.Error("draft was modified")
	}
}

func TestSynthesizeEmpty(t *testing.T) {
	r := Synthesize(ReportDraft{Urgency: UrgencySelfCare}, LocaleZH)
	if len(r.Conditions) != 0 {
		t.Errorf("Conditions = %+v", r.Conditions)
	}
	if r.NextSteps == nil {
		t.Error("NextSteps should be an empty list, not nil")
	}
	if r.Disclaimer != "此评估仅供参考，不能替代专业医疗诊断。如有疑虑，请咨询医生。" {
		t.Errorf("Disclaimer = %q", r.Disclaimer)
	}
}

func TestInconclusiveDraft(t *testing.T) {
	symptoms := []string{"headache"}
	r := Synthesize(InconclusiveDraft(symptoms, LocaleEN), LocaleEN)

	if len(r.Conditions) != 1 || !r.Conditions[0].IsBestMatch {
		t.Fatalf("Conditions = %+v", r.Conditions)
	}
	if r.Conditions[0].MatchedSymptoms[0] != "headache" {
		t.Errorf("MatchedSymptoms = %v", r.Conditions[0].MatchedSymptoms)
	}
	if r.Urgency != UrgencyRoutine {
		t.Errorf("Urgency = %q", r.Urgency)
	}
}
