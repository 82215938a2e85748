package keyspace

import (
	"strings"
	"testing"
)

func TestLayout(t *testing.T) {
	k := Layout("myns", "widgets")

	want := Keys{
		Exclusive:        "myns:{widgets}:exclusive",
		ExclusiveWaiting: "myns:{widgets}:exclusive_waiting",
		Shared:           "myns:{widgets}:shared",
		SharedWaiting:    "myns:{widgets}:shared_waiting",
	}
	if k != want {
		t.Errorf("Layout(myns, widgets) = %+v, want %+v", k, want)
	}
}

func TestLayout_DefaultNamespace(t *testing.T) {
	k := Layout("", "widgets")
	if k.Exclusive != DefaultNamespace+":{widgets}:exclusive" {
		t.Errorf("Layout with empty namespace = %q, want default namespace prefix", k.Exclusive)
	}
}

func TestLayout_HashTag(t *testing.T) {
	// Every key for the same name must share a single {name} hash tag so a
	// Redis Cluster deployment routes all four keys to the same slot.
	k := Layout("ns", "report-42")
	for _, key := range k.Names() {
		if !strings.Contains(key, "{report-42}") {
			t.Errorf("key %q does not carry the expected hash tag", key)
		}
	}
}

func TestKeys_Names_Order(t *testing.T) {
	k := Layout("ns", "n")
	names := k.Names()
	want := []string{k.Exclusive, k.ExclusiveWaiting, k.Shared, k.SharedWaiting}
	if len(names) != len(want) {
		t.Fatalf("Names() returned %d keys, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"widgets", false},
		{"report-42", false},
		{"", true},
		{"has{brace", true},
		{"has}brace", true},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}
