package topic

import "testing"

func TestBuilder(t *testing.T) {
	b := NewBuilder("athena/v1/")

	if got := b.Build("officer/location", "o-7"); got != "athena/v1/officer/location/o-7" {
		t.Errorf("Build() = %q", got)
	}
	if got := b.BuildWildcard("identification"); got != "athena/v1/identification/+" {
		t.Errorf("BuildWildcard() = %q", got)
	}
	if got := b.Shared("athena").BuildWildcard("identification"); got != "$share/athena/athena/v1/identification/+" {
		t.Errorf("shared BuildWildcard() = %q", got)
	}
	if got := b.BuildWildcard("identification"); got != "athena/v1/identification/+" {
		t.Errorf("Shared() modified the receiver: %q", got)
	}
}

func TestParse(t *testing.T) {
	b := NewBuilder("athena/v1")

	tests := []struct {
		segment string
		topic   string
		wantID  string
		wantOK  bool
	}{
		{"identification", "athena/v1/identification/cam-1", "cam-1", true},
		{"alert/ack", "athena/v1/alert/ack/o-2", "o-2", true},
		{"identification", "athena/v1/identification/", "", false},
		{"identification", "athena/v1/identification/a/b", "", false},
		{"identification", "athena/v2/identification/cam-1", "", false},
		{"alert/ack", "athena/v1/alert/o-2", "", false},
	}
	for _, tt := range tests {
		id, ok := b.Parse(tt.segment, tt.topic)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("Parse(%q, %q) = %q, %v; want %q, %v", tt.segment, tt.topic, id, ok, tt.wantID, tt.wantOK)
		}
	}
}
