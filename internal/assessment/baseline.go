package assessment

const (
	BaselineSexID     = "baseline_sex"
	BaselineAgeID     = "baseline_age"
	BaselineSmokingID = "baseline_smoking"

	ChiefComplaintID = "chief_complaint"
)

type choiceSpec struct {
	value string
	label Text
}

type baselineSpec struct {
	id       string
	text     Text
	category Category
	options  []choiceSpec
}

var baselineQuestions = []baselineSpec{
	{
		id:       BaselineSexID,
		text:     Text{ZH: "您的生理性别是？", EN: "What is your biological sex?"},
		category: CategoryDemographics,
		options: []choiceSpec{
			{"female", Text{ZH: "女", EN: "Female"}},
			{"male", Text{ZH: "男", EN: "Male"}},
		},
	},
	{
		id:       BaselineAgeID,
		text:     Text{ZH: "您的年龄是？", EN: "How old are you?"},
		category: CategoryDemographics,
		options: []choiceSpec{
			{"0-17", Text{ZH: "18岁以下", EN: "Under 18"}},
			{"18-29", Text{ZH: "18-29岁", EN: "18-29"}},
			{"30-44", Text{ZH: "30-44岁", EN: "30-44"}},
			{"45-59", Text{ZH: "45-59岁", EN: "45-59"}},
			{"60-74", Text{ZH: "60-74岁", EN: "60-74"}},
			{"75+", Text{ZH: "75岁及以上", EN: "75 or older"}},
		},
	},
	{
		id:       BaselineSmokingID,
		text:     Text{ZH: "您吸烟吗？", EN: "Do you smoke?"},
		category: CategoryHistory,
		options: []choiceSpec{
			{"never", Text{ZH: "从不吸烟", EN: "Never smoked"}},
			{"former", Text{ZH: "已戒烟", EN: "Former smoker"}},
			{"current", Text{ZH: "目前吸烟", EN: "Current smoker"}},
		},
	},
}

// BaselineCount is the number of fixed baseline questions.
var BaselineCount = len(baselineQuestions)

// NextBaseline returns the first baseline question whose id does not appear
// in history. ok is false once every baseline question has been answered.
func NextBaseline(history []AnswerRecord, l Locale) (q Question, ok bool) {
	answered := make(map[string]bool, len(history))
	for _, r := range history {
		answered[r.QuestionID] = true
	}
	for i, spec := range baselineQuestions {
		if answered[spec.id] {
			continue
		}
		opts := make([]Option, len(spec.options))
		for j, o := range spec.options {
			opts[j] = Option{Value: o.value, Label: o.label.In(l)}
		}
		q := Question{
			ID:       spec.id,
			Text:     spec.text.In(l),
			Type:     TypeSingleChoice,
			Category: spec.category,
			Options:  opts,
			Progress: BaselineProgress(i),
		}
		return q.Normalize(l), true
	}
	return Question{}, false
}

// IsBaselineQuestion reports whether id names a baseline question.
func IsBaselineQuestion(id string) bool {
	for _, spec := range baselineQuestions {
		if spec.id == id {
			return true
		}
	}
	return false
}

// ApplyBaselineAnswer records a baseline answer in d. Escape answers leave
// the field empty.
func ApplyBaselineAnswer(d Demographics, r AnswerRecord) Demographics {
	if r.Value.IsEscape() {
		return d
	}
	v := r.Value.String()
	switch r.QuestionID {
	case BaselineSexID:
		d.Sex = v
	case BaselineAgeID:
		d.AgeRange = v
	case BaselineSmokingID:
		d.Smoking = v
	}
	return d
}

// ChiefComplaintQuestion is the open-ended prompt asked after the baseline.
func ChiefComplaintQuestion(l Locale) Question {
	return Question{
		ID:   ChiefComplaintID,
		Text: Text{ZH: "您今天哪里不舒服？", EN: "What brings you here today?"}.In(l),
		Description: Text{
			ZH: "请描述您的主要症状，例如：头痛、胸闷、膝盖疼痛……",
			EN: "Please describe your main symptom, e.g., headache, chest tightness, knee pain...",
		}.In(l),
		Type:     TypeText,
		Category: CategoryAssociated,
		Progress: ComplaintProgress,
	}
}

// MaxAnswers is the history length at which a report is forced.
const MaxAnswers = 12

// ComplaintProgress is the progress shown with the chief complaint prompt.
const ComplaintProgress = 35

// BaselineProgress returns the progress of the baseline question at index i.
func BaselineProgress(i int) int {
	return 10 * (i + 1)
}

// DifferentialProgress returns the progress of a question asked after
// answered answers. It never reaches 100.
func DifferentialProgress(answered int) int {
	return min(35+5*answered, 95)
}
