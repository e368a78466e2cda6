package metrics

import "testing"

func TestMetricName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "adds prefix", input: "requests_total", expected: "kbchat_requests_total"},
		{name: "keeps prefixed", input: "kbchat_custom_metric", expected: "kbchat_custom_metric"},
		{name: "blank returns prefix", input: "", expected: "kbchat_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MetricName(tt.input); got != tt.expected {
				t.Fatalf("MetricName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMetricNameWithSubsystem(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		subsystem  string
		metricName string
		expected   string
	}{
		{name: "subsystem and name", subsystem: "knowledge", metricName: "chunks_total", expected: "kbchat_knowledge_chunks_total"},
		{name: "subsystem trims underscore", subsystem: "_vectordb_", metricName: "search_seconds", expected: "kbchat_vectordb_search_seconds"},
		{name: "empty name", subsystem: "ingest", metricName: "", expected: "kbchat_ingest"},
		{name: "empty subsystem", subsystem: "", metricName: "up", expected: "kbchat_up"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MetricNameWithSubsystem(tt.subsystem, tt.metricName); got != tt.expected {
				t.Fatalf("MetricNameWithSubsystem(%q, %q) = %q, want %q", tt.subsystem, tt.metricName, got, tt.expected)
			}
		})
	}
}
