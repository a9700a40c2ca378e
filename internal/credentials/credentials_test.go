package credentials

import "testing"

func creds(ids ...string) []Credential {
	out := make([]Credential, 0, len(ids))
	for _, id := range ids {
		out = append(out, Credential{ID: id})
	}
	return out
}

func TestNextRotation(t *testing.T) {
	t.Parallel()
	cs := creds("A", "B", "C")

	tests := []struct {
		name    string
		current string
		want    string
	}{
		{name: "middle", current: "A", want: "B"},
		{name: "wrap around", current: "C", want: "A"},
		{name: "not found falls back to first", current: "Z", want: "A"},
		{name: "empty current falls back to first", current: "", want: "A"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Next(cs, tt.current)
			if got == nil {
				t.Fatalf("Next(%q) = nil", tt.current)
			}
			if got.ID != tt.want {
				t.Fatalf("Next(%q) = %s, want %s", tt.current, got.ID, tt.want)
			}
		})
	}
}

func TestNextEmpty(t *testing.T) {
	t.Parallel()
	if got := Next(nil, "A"); got != nil {
		t.Fatalf("Next(nil) = %+v, want nil", got)
	}
}

func TestNextDoesNotAliasInput(t *testing.T) {
	t.Parallel()
	cs := creds("A", "B")
	got := Next(cs, "A")
	got.ID = "mutated"
	if cs[1].ID != "B" {
		t.Fatal("Next returned a pointer into the input slice")
	}
}

func TestAt(t *testing.T) {
	t.Parallel()
	cs := creds("A", "B")
	if got := At(cs, 1); got == nil || got.ID != "B" {
		t.Fatalf("At(1) = %+v, want B", got)
	}
	if got := At(cs, 2); got != nil {
		t.Fatalf("At(2) = %+v, want nil", got)
	}
	if got := At(cs, -1); got != nil {
		t.Fatalf("At(-1) = %+v, want nil", got)
	}
}
