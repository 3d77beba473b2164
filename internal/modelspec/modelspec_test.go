package modelspec

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    ModelSpec
		wantErr bool
	}{
		{
			name: "bare name",
			spec: "gpt-5",
			want: ModelSpec{Name: "gpt-5"},
		},
		{
			name: "provider and name",
			spec: "anthropic:claude-sonnet",
			want: ModelSpec{Provider: "anthropic", Name: "claude-sonnet"},
		},
		{
			name: "provider, namespace and routing",
			spec: "anthropic:team/claude-sonnet#fast,cheap",
			want: ModelSpec{Provider: "anthropic", Name: "team/claude-sonnet", Routing: []string{"fast", "cheap"}},
		},
		{
			name: "namespace only",
			spec: "team/claude-sonnet",
			want: ModelSpec{Name: "team/claude-sonnet"},
		},
		{
			name:    "empty spec is invalid",
			spec:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q): expected an error", tt.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): unexpected error: %v", tt.spec, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestCoreName(t *testing.T) {
	tests := []struct{ spec, want string }{
		{"gpt-5", "gpt-5"},
		{"anthropic:claude-sonnet", "claude-sonnet"},
		{"anthropic:team/claude-sonnet#fast,cheap", "claude-sonnet"},
		{"team/claude-sonnet", "claude-sonnet"},
	}
	for _, tt := range tests {
		if got := CoreName(tt.spec); got != tt.want {
			t.Errorf("CoreName(%q) = %q, want %q", tt.spec, got, tt.want)
		}
	}
}
