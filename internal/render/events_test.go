package render

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{"blank", "   ", nil},
		{"frame line", "Fra:42 Mem:120M", FrameEvent{Frame: 42, Raw: "Fra:42 Mem:120M"}},
		{"frame with spacing", "Fra: 7 | rendering", FrameEvent{Frame: 7, Raw: "Fra: 7 | rendering"}},
		{"status passthrough", "Loading scene geometry", StatusEvent{Text: "Loading scene geometry"}},
		{"frame marker no digits", "Fra:none yet", StatusEvent{Text: "Fra:none yet"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.line)
			if got != tt.want {
				t.Errorf("Classify(%q) = %#v, want %#v", tt.line, got, tt.want)
			}
		})
	}
}

func TestClassifyAutoOrient(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantAxis   string
		wantOffset float64
		hasAxis    bool
		hasOffset  bool
	}{
		{"both fields", "[AUTO] axis=Y offset=45.5", "Y", 45.5, true, true},
		{"lowercase axis", "[AUTO] axis=x offset=0", "X", 0, true, true},
		{"axis only", "[AUTO] axis=Z", "Z", 0, true, false},
		{"garbage fields", "[AUTO] axis=Q offset=abc", "", 0, false, false},
		{"no fields", "[AUTO] deciding", "", 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Classify(tt.line).(AutoOrientEvent)
			if !ok {
				t.Fatalf("Classify(%q) is not AutoOrientEvent", tt.line)
			}
			if ev.HasAxis != tt.hasAxis || ev.HasOffset != tt.hasOffset {
				t.Errorf("HasAxis/HasOffset = %v/%v, want %v/%v", ev.HasAxis, ev.HasOffset, tt.hasAxis, tt.hasOffset)
			}
			if ev.HasAxis && ev.Axis != tt.wantAxis {
				t.Errorf("Axis = %q, want %q", ev.Axis, tt.wantAxis)
			}
			if ev.HasOffset && ev.OffsetDeg != tt.wantOffset {
				t.Errorf("OffsetDeg = %v, want %v", ev.OffsetDeg, tt.wantOffset)
			}
		})
	}
}

func TestParseFrameFirstDigitTokenWins(t *testing.T) {
	ev, ok := Classify("Fra:12 Time:00:01.50").(FrameEvent)
	if !ok {
		t.Fatal("expected FrameEvent")
	}
	if ev.Frame != 12 {
		t.Errorf("Frame = %d, want 12", ev.Frame)
	}
}
