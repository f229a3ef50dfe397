package growth

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/compresr/pitch-gateway/internal/apierr"
	"github.com/compresr/pitch-gateway/internal/utils"
)

const (
	maxQuestionRunes = 2000
	maxAnswerRunes   = 8000
	maxNoteRunes     = 2000
	maxTagRunes      = 64
	maxObjectBytes   = 64 * 1024

	minScore = 0
	maxScore = 100
)

// RecordInput is the body of script-generation and saved-script requests.
type RecordInput struct {
	Question   string          `json:"question"`
	Snapshot   json.RawMessage `json:"snapshot"`
	Suggestion json.RawMessage `json:"suggestion"`
}

// Validate checks the question and that both payloads are JSON objects.
func (in *RecordInput) Validate() error {
	in.Question = strings.TrimSpace(in.Question)
	if in.Question == "" {
		return apierr.Invalid("question is required")
	}
	if utils.RuneLen(in.Question) > maxQuestionRunes {
		return apierr.Invalid("question is too long")
	}
	if err := checkObject("snapshot", in.Snapshot); err != nil {
		return err
	}
	return checkObject("suggestion", in.Suggestion)
}

func checkObject(field string, raw json.RawMessage) error {
	if len(raw) > maxObjectBytes {
		return apierr.Invalid(field + " is too large")
	}
	if !utils.IsJSONObject(raw) {
		return apierr.Invalid(field + " must be an object")
	}
	return nil
}

// DrillInput is the body of a drill-score request.
type DrillInput struct {
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	Score     *float64 `json:"score"`
	Feedback  string   `json:"feedback"`
	Highlight string   `json:"highlight"`
	Improve   string   `json:"improve"`
	Industry  string   `json:"industry"`
	ProductID string   `json:"productId"`
}

// Validate checks limits and returns the score rounded half-up.
func (in *DrillInput) Validate() (int, error) {
	in.Question = strings.TrimSpace(in.Question)
	in.Answer = strings.TrimSpace(in.Answer)
	switch {
	case in.Question == "":
		return 0, apierr.Invalid("question is required")
	case utils.RuneLen(in.Question) > maxQuestionRunes:
		return 0, apierr.Invalid("question is too long")
	case in.Answer == "":
		return 0, apierr.Invalid("answer is required")
	case utils.RuneLen(in.Answer) > maxAnswerRunes:
		return 0, apierr.Invalid("answer is too long")
	}

	for _, f := range []struct {
		name  string
		value string
		max   int
	}{
		{"feedback", in.Feedback, maxNoteRunes},
		{"highlight", in.Highlight, maxNoteRunes},
		{"improve", in.Improve, maxNoteRunes},
		{"industry", in.Industry, maxTagRunes},
		{"productId", in.ProductID, maxTagRunes},
	} {
		if utils.RuneLen(f.value) > f.max {
			return 0, apierr.Invalid(f.name + " is too long")
		}
	}

	return roundScore(in.Score)
}

func roundScore(score *float64) (int, error) {
	if score == nil {
		return 0, apierr.Invalid("score is required")
	}
	v := *score
	if math.IsNaN(v) || math.IsInf(v, 0) || v < minScore || v > maxScore {
		return 0, apierr.Invalid("score must be between 0 and 100")
	}
	return int(math.Floor(v + 0.5)), nil
}
