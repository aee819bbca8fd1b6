package protocol

import "testing"

func TestStatusOrderDropsStaleFrames(t *testing.T) {
	var o StatusOrder
	steps := []struct {
		sender string
		boot   int64
		seq    uint64
		want   bool
	}{
		{"core", 100, 5, true},
		{"core", 100, 3, false},
		{"core", 100, 5, false},
		{"core", 100, 6, true},
		{"other", 100, 1, true},
		{"core", 200, 1, true},
		{"core", 100, 9, false},
		{"core", 200, 2, true},
	}
	for i, s := range steps {
		got := o.Accept(s.sender, StatusFrame{Boot: s.boot, Seq: s.seq})
		if got != s.want {
			t.Fatalf("step %d (%s boot=%d seq=%d): accept=%v, want %v", i, s.sender, s.boot, s.seq, got, s.want)
		}
	}
}
