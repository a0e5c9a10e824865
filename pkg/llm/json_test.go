package llm

import (
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
		wantErr  bool
	}{
		{
			name:     "bare object",
			response: `{"score": 72}`,
			want:     `{"score": 72}`,
		},
		{
			name:     "markdown fenced",
			response: "Here you go:\n```json\n{\"score\": 72}\n```",
			want:     `{"score": 72}`,
		},
		{
			name:     "think tags",
			response: "<think>let me reason</think>\n{\"score\": 72}",
			want:     `{"score": 72}`,
		},
		{
			name:     "array",
			response: `The findings: [{"title": "a"}, {"title": "b"}]`,
			want:     `[{"title": "a"}, {"title": "b"}]`,
		},
		{
			name:     "nested braces in strings",
			response: `{"detail": "use {x} carefully", "score": 5}`,
			want:     `{"detail": "use {x} carefully", "score": 5}`,
		},
		{
			name:     "no json",
			response: "I cannot answer that.",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.response)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseJSONResponse(t *testing.T) {
	type scorePayload struct {
		Score  float64 `json:"score"`
		Detail string  `json:"detail"`
	}

	got, err := ParseJSONResponse[scorePayload]("```json\n{\"score\": 81.5, \"detail\": \"solid\"}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Score != 81.5 || got.Detail != "solid" {
		t.Errorf("unexpected payload: %+v", got)
	}
}
