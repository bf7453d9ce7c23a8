package completion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedOutput marks a specialist response that is not the expected
// JSON object.
var ErrMalformedOutput = errors.New("malformed completion output")

// Analysis is the structured result every specialist must return.
type Analysis struct {
	Analysis        string   `json:"analysis"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
}

// AnalysisSchema is appended to specialist prompts.
const AnalysisSchema = `Respond with a single JSON object and nothing else:
{"analysis": string, "recommendations": [string], "confidence": number between 0 and 1, "reasoning": string}`

// ParseAnalysis decodes raw into an Analysis. A single surrounding markdown
// code fence is tolerated; anything else that is not one JSON object with a
// non-empty analysis and a confidence in [0, 1] is ErrMalformedOutput.
func ParseAnalysis(raw string) (*Analysis, error) {
	body := stripFence(strings.TrimSpace(raw))
	if body == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedOutput)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	var a Analysis
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing content", ErrMalformedOutput)
	}

	if strings.TrimSpace(a.Analysis) == "" {
		return nil, fmt.Errorf("%w: missing analysis", ErrMalformedOutput)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrMalformedOutput, a.Confidence)
	}
	if a.Recommendations == nil {
		a.Recommendations = []string{}
	}
	return &a, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
