package models

import "testing"

func TestOverrideMap(t *testing.T) {
	t.Parallel()
	got := OverrideMap([]PolicyOverride{
		{PolicyName: "demo:api", Rate: "10-M"},
		{PolicyName: "", Rate: "1-S"},
		{PolicyName: "write:deals", Rate: ""},
		{PolicyName: "demo:api", Rate: "20-M"},
	})
	if len(got) != 1 {
		t.Fatalf("OverrideMap() = %v, want one entry", got)
	}
	if got["demo:api"] != "20-M" {
		t.Errorf("demo:api = %q, want 20-M (later entry wins)", got["demo:api"])
	}
}
