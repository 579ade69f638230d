package assessment

// FallbackVariant selects a hand-authored question used when the reasoning
// backends cannot produce a usable one.
type FallbackVariant string

const (
	// FallbackTiming is used when every reasoning backend failed or a reply
	// broke the response contract.
	FallbackTiming FallbackVariant = "timing"
	// FallbackSeverity is used when a backend answered with something that
	// is not JSON.
	FallbackSeverity FallbackVariant = "severity"
)

// FallbackQuestion returns the localized fallback question of variant v with
// the given id and progress. Choice variants are already normalized.
func FallbackQuestion(v FallbackVariant, id string, progress int, l Locale) Question {
	if v == FallbackSeverity {
		lo, hi := 1, 10
		return Question{
			ID:   id,
			Text: Text{ZH: "症状的严重程度如何？", EN: "How severe are your symptoms?"}.In(l),
			Description: Text{
				ZH: "1 表示非常轻微，10 表示难以忍受",
				EN: "1 means very mild, 10 means unbearable",
			}.In(l),
			Type:     TypeScale,
			Category: CategorySeverity,
			Min:      &lo,
			Max:      &hi,
			Progress: progress,
		}
	}

	q := Question{
		ID:       id,
		Text:     Text{ZH: "您的症状持续多长时间了？", EN: "How long have you had these symptoms?"}.In(l),
		Type:     TypeSingleChoice,
		Category: CategoryTiming,
		Options: []Option{
			{Value: "hours", Label: Text{ZH: "几个小时", EN: "A few hours"}.In(l)},
			{Value: "days", Label: Text{ZH: "几天", EN: "A few days"}.In(l)},
			{Value: "weeks", Label: Text{ZH: "几周", EN: "A few weeks"}.In(l)},
			{Value: "months", Label: Text{ZH: "几个月或更久", EN: "Months or longer"}.In(l)},
		},
		Progress: progress,
	}
	return q.Normalize(l)
}
