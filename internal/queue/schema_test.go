package queue

import (
	"encoding/json"
	"testing"
)

func TestValidateAgentJob_AcceptsFullJob(t *testing.T) {
	job := NewJob("C1", "1700.1", "U1", "summarize this thread", "prior context")
	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ValidateAgentJob(raw); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
}

func TestValidateAgentJob_RejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"no prompt":    `{"id":"a","channel":"C1","thread_ts":"1","user":"U1"}`,
		"no user":      `{"id":"a","channel":"C1","thread_ts":"1","prompt":"p"}`,
		"no thread_ts": `{"id":"a","channel":"C1","user":"U1","prompt":"p"}`,
		"no channel":   `{"id":"a","thread_ts":"1","user":"U1","prompt":"p"}`,
		"no id":        `{"channel":"C1","thread_ts":"1","user":"U1","prompt":"p"}`,
	}
	for name, raw := range cases {
		if err := ValidateAgentJob([]byte(raw)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestValidateAgentJob_RejectsEmptyStrings(t *testing.T) {
	raw := `{"id":"a","channel":"C1","thread_ts":"1","user":"U1","prompt":""}`
	if err := ValidateAgentJob([]byte(raw)); err == nil {
		t.Fatal("empty prompt should fail minLength")
	}
}

func TestValidateAgentJob_RejectsMalformedJSON(t *testing.T) {
	if err := ValidateAgentJob([]byte(`{"id": `)); err == nil {
		t.Fatal("malformed JSON should fail")
	}
}
