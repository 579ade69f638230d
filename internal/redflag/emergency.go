package redflag

import (
	"strings"

	"github.com/kalambet/intake/internal/assessment"
)

// Contact is a regional emergency phone number.
type Contact struct {
	Number string
	Name   assessment.Text
}

var emergencyServices = assessment.Text{ZH: "急救服务", EN: "Emergency Services"}

var contacts = map[string]Contact{
	"CN": {Number: "120", Name: assessment.Text{ZH: "急救中心", EN: "Emergency Center"}},
	"US": {Number: "911", Name: emergencyServices},
	"UK": {Number: "999", Name: emergencyServices},
	"EU": {Number: "112", Name: emergencyServices},
	"AU": {Number: "000", Name: emergencyServices},
}

var defaultContact = Contact{Number: "112", Name: emergencyServices}

// euMembers use the shared European number.
var euMembers = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true, "DK": true,
	"EE": true, "FI": true, "FR": true, "DE": true, "GR": true, "HU": true, "IE": true,
	"IT": true, "LV": true, "LT": true, "LU": true, "MT": true, "NL": true, "PL": true,
	"PT": true, "RO": true, "SK": true, "SI": true, "ES": true, "SE": true,
}

// ContactFor returns the emergency number for an ISO country code.
func ContactFor(country string) Contact {
	cc := strings.ToUpper(strings.TrimSpace(country))
	if cc == "GB" {
		cc = "UK"
	}
	if euMembers[cc] {
		cc = "EU"
	}
	if c, ok := contacts[cc]; ok {
		return c
	}
	return defaultContact
}

// Emergency is the interrupt returned in place of a question or report.
type Emergency struct {
	Title           string   `json:"title"`
	Message         string   `json:"message"`
	DetectedPattern string   `json:"detected_pattern"`
	MatchedTerms    []string `json:"matched_terms"`
	EmergencyNumber string   `json:"emergency_number"`
	EmergencyName   string   `json:"emergency_name"`
	Instructions    []string `json:"instructions"`
}

var emergencyTitle = assessment.Text{ZH: "请立即寻求紧急医疗救助", EN: "Seek emergency care now"}

// BuildEmergency renders a triggered result for the user's country and locale.
func BuildEmergency(r Result, country string, l assessment.Locale) Emergency {
	c := ContactFor(country)
	call := assessment.Text{
		ZH: "立即拨打 " + c.Number + "（" + c.Name.ZH + "）",
		EN: "Call " + c.Number + " (" + c.Name.EN + ") right away",
	}
	instructions := []string{
		call.In(l),
		assessment.Text{ZH: "不要自行驾车前往医院", EN: "Do not drive yourself to the hospital"}.In(l),
		assessment.Text{ZH: "保持冷静，尽量让他人陪在身边", EN: "Stay calm and keep someone with you"}.In(l),
		assessment.Text{ZH: "记录症状开始的时间，告知急救人员", EN: "Note when the symptoms started and tell the responders"}.In(l),
	}

	msg := r.Message.In(l)
	if msg == "" {
		msg = assessment.Text{
			ZH: "您描述的症状可能需要紧急处理。请立即拨打急救电话。",
			EN: "Your symptoms may need urgent attention. Call emergency services immediately.",
		}.In(l)
	}

	matched := r.Matched
	if matched == nil {
		matched = []string{}
	}
	return Emergency{
		Title:           emergencyTitle.In(l),
		Message:         msg,
		DetectedPattern: r.Pattern,
		MatchedTerms:    matched,
		EmergencyNumber: c.Number,
		EmergencyName:   c.Name.In(l),
		Instructions:    instructions,
	}
}
