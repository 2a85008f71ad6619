package completion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dbchat-ai/relay-platform/internal/model"
)

// Outcome is the normalized shape of a completed turn, regardless of whether
// it came from a terminal stream event or a whole JSON document.
type Outcome struct {
	AssistantText string
	SQLQuery      string
	Results       []model.QueryResult
}

// Field aliases observed across upstream generations. First match wins.
var (
	assistantAliases = []string{"response", "message", "formatted_result"}
	queryAliases     = []string{"sql_query", "sqlQuery"}
	resultAliases    = []string{"queryResults", "results", "query_results"}
)

// documentElement is one entry of an array-shaped upstream document.
type documentElement struct {
	Formatted    string           `json:"formatted_result"`
	SQLGenerated string           `json:"sql_generated"`
	Status       string           `json:"status"`
	Rows         []map[string]any `json:"rows"`
	FilePath     string           `json:"file_path"`
}

// NormalizeDocument maps a non-streaming upstream body onto an Outcome.
// Arrays take the first element's formatted result and generated query;
// objects accept the documented field aliases.
func NormalizeDocument(doc json.RawMessage) (Outcome, error) {
	trimmed := strings.TrimSpace(string(doc))
	if trimmed == "" {
		return Outcome{}, fmt.Errorf("empty document")
	}

	if trimmed[0] == '[' {
		var elems []documentElement
		if err := json.Unmarshal(doc, &elems); err != nil {
			return Outcome{}, fmt.Errorf("failed to decode document array: %w", err)
		}
		return normalizeArray(elems), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil {
		return Outcome{}, fmt.Errorf("failed to decode document object: %w", err)
	}
	return normalizeObject(obj), nil
}

func normalizeArray(elems []documentElement) Outcome {
	var out Outcome
	if len(elems) > 0 {
		out.AssistantText = elems[0].Formatted
		out.SQLQuery = elems[0].SQLGenerated
	}
	for _, e := range elems {
		out.Results = append(out.Results, model.QueryResult{
			Status:    e.Status,
			Rows:      e.Rows,
			FilePath:  e.FilePath,
			Formatted: e.Formatted,
		})
	}
	return out
}

// normalizeObject extracts assistant text, query, and results from a decoded
// JSON object, honoring every field alias. Shared by the stream decoder's
// terminal-event handling and the document path.
func normalizeObject(obj map[string]json.RawMessage) Outcome {
	return Outcome{
		AssistantText: firstString(obj, assistantAliases),
		SQLQuery:      firstString(obj, queryAliases),
		Results:       firstResults(obj, resultAliases),
	}
}

// firstString returns the first non-empty string value among the aliases.
func firstString(obj map[string]json.RawMessage, aliases []string) string {
	for _, key := range aliases {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s != "" {
			return s
		}
	}
	return ""
}

// firstResults returns the first present result list among the aliases.
func firstResults(obj map[string]json.RawMessage, aliases []string) []model.QueryResult {
	for _, key := range aliases {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var results []model.QueryResult
		if err := json.Unmarshal(raw, &results); err != nil {
			continue
		}
		return results
	}
	return nil
}
