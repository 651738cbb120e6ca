package stream

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCommandCompleteKeepsZeroExitCode(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		want     []string
	}{
		{"success", 0, []string{`"exitCode":0`, `"success":true`}},
		{"failure", 2, []string{`"exitCode":2`, `"success":false`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(CommandComplete("npm test", tt.exitCode))
			if err != nil {
				t.Fatal(err)
			}
			for _, want := range tt.want {
				if !strings.Contains(string(data), want) {
					t.Errorf("encoded event %s missing %s", data, want)
				}
			}
		})
	}
}

func TestNonCommandEventsOmitExitFields(t *testing.T) {
	for _, ev := range []Event{
		Start("Applying generated code", 2),
		Warning("npm install failed"),
		FileComplete("src/App.jsx", ActionCreate),
	} {
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(data), "exitCode") || strings.Contains(string(data), "success") {
			t.Errorf("%s event leaked exit fields: %s", ev.Type, data)
		}
	}
}

func TestTerminal(t *testing.T) {
	if !Complete(Results{}, "", "", "done").Terminal() {
		t.Error("complete should be terminal")
	}
	if !Error("boom").Terminal() {
		t.Error("error should be terminal")
	}
	if Warning("careful").Terminal() {
		t.Error("warning should not be terminal")
	}
}
