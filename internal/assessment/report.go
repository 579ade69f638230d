package assessment

import "sort"

var disclaimer = Text{
	ZH: "此评估仅供参考，不能替代专业医疗诊断。如有疑虑，请咨询医生。",
	EN: "This assessment is for reference only and cannot replace professional medical diagnosis. Please consult a doctor if you have concerns.",
}

// Disclaimer returns the legal disclaimer attached to every report.
func Disclaimer(l Locale) string {
	return disclaimer.In(l)
}

// ReportDraft is an unranked report as produced by the reasoning backend.
type ReportDraft struct {
	Conditions []Condition
	Urgency    Urgency
	NextSteps  []NextStep
}

// Synthesize ranks the draft's conditions by descending probability, keeping
// generator order among ties, flags the first as the best match and attaches
// the disclaimer. The draft is not modified.
func Synthesize(d ReportDraft, l Locale) Report {
	conds := make([]Condition, len(d.Conditions))
	copy(conds, d.Conditions)
	sort.SliceStable(conds, func(i, j int) bool {
		return conds[i].Probability > conds[j].Probability
	})
	for i := range conds {
		conds[i].IsBestMatch = i == 0
		if conds[i].MatchedSymptoms == nil {
			conds[i].MatchedSymptoms = []string{}
		}
	}

	steps := d.NextSteps
	if steps == nil {
		steps = []NextStep{}
	}
	return Report{
		Conditions: conds,
		Urgency:    d.Urgency,
		NextSteps:  steps,
		Disclaimer: Disclaimer(l),
	}
}

// InconclusiveDraft is the report drafted locally when the answer limit is
// reached without a usable report from the reasoning backends.
func InconclusiveDraft(symptoms []string, l Locale) ReportDraft {
	matched := make([]string, len(symptoms))
	copy(matched, symptoms)
	return ReportDraft{
		Conditions: []Condition{{
			Name: Text{ZH: "无法确定", EN: "Inconclusive assessment"}.In(l),
			Description: Text{
				ZH: "根据目前的回答无法给出可靠的判断，建议由医生进行面诊评估。",
				EN: "Your answers were not enough to rank likely conditions. A clinician should evaluate your symptoms in person.",
			}.In(l),
			Probability:     0,
			MatchedSymptoms: matched,
		}},
		Urgency: UrgencyRoutine,
		NextSteps: []NextStep{
			{Action: Text{ZH: "预约医生面诊", EN: "Book an appointment with a doctor"}.In(l), Icon: "🏥"},
			{Action: Text{ZH: "如症状加重，请立即就医", EN: "Seek care immediately if symptoms get worse"}.In(l), Icon: "📞"},
		},
	}
}
