package core

import "net/http"

// Problem captures the information returned in an RFC 7807 error response.
type Problem struct {
	Type     string
	Title    string
	Status   int
	Detail   string
	Instance string
	Extras   map[string]any
}

// NormalizeProblem ensures the provided problem includes canonical defaults.
func NormalizeProblem(problem *Problem) *Problem {
	if problem == nil {
		problem = &Problem{}
	}
	if problem.Status == 0 {
		problem.Status = http.StatusInternalServerError
	}
	if problem.Title == "" {
		problem.Title = http.StatusText(problem.Status)
	}
	if problem.Type == "" {
		problem.Type = "about:blank"
	}
	return problem
}

// BuildProblemBody assembles the serialized representation of the problem.
// Every body carries success=false and a human readable message so clients
// of the ingestion and chat endpoints can branch on a single field.
func BuildProblemBody(problem *Problem) map[string]any {
	message := problem.Detail
	if message == "" {
		message = problem.Title
	}
	body := map[string]any{
		"type":    problem.Type,
		"title":   problem.Title,
		"status":  problem.Status,
		"success": false,
		"message": message,
	}
	if problem.Detail != "" {
		body["detail"] = problem.Detail
	}
	if problem.Instance != "" {
		body["instance"] = problem.Instance
	}
	filtered := make(map[string]any, len(problem.Extras))
	for key, value := range problem.Extras {
		if !isReservedProblemKey(key) {
			filtered[key] = value
		}
	}
	if len(filtered) == 0 {
		return body
	}
	return CopyMaps(body, filtered)
}

func isReservedProblemKey(key string) bool {
	switch key {
	case "type", "title", "status", "detail", "instance", "success", "message":
		return true
	default:
		return false
	}
}
