package client

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/emoji-faces/pkg/types"
)

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseFaceAnalysis parses a model reply into a FaceAnalysis. Replies that are
// not JSON, or that cannot be repaired, yield an analysis with no faces so a
// chatty model never fails a detection run.
func ParseFaceAnalysis(raw string) *types.FaceAnalysis {
	raw = SanitizeModelJSON(raw)

	if !strings.HasPrefix(raw, "{") {
		return &types.FaceAnalysis{Description: "model returned non-JSON response"}
	}

	var result types.FaceAnalysis
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return &types.FaceAnalysis{Description: "failed to parse model response"}
	}

	faces := result.Faces[:0]
	for _, f := range result.Faces {
		if f.Box.W <= 0 || f.Box.H <= 0 {
			continue
		}
		faces = append(faces, f)
	}
	result.Faces = faces

	return &result
}

// SanitizeModelJSON removes code fences, comments and trailing commas from a
// model reply and keeps only the outermost JSON object.
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
