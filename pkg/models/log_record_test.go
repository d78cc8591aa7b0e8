package models

import "testing"

func TestLevelFromInt(t *testing.T) {
	tests := []struct {
		in   int
		want Level
	}{
		{-3, LevelTrace},
		{0, LevelTrace},
		{2, LevelInfo},
		{4, LevelError},
		{9, LevelError},
	}
	for _, tt := range tests {
		if got := LevelFromInt(tt.in); got != tt.want {
			t.Errorf("LevelFromInt(%d) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   Level
		wantOK bool
	}{
		{"trace", LevelTrace, true},
		{"DEBUG", LevelDebug, true},
		{" info ", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"Error", LevelError, true},
		{"fatal", LevelTrace, false},
		{"", LevelTrace, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseLevel(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestLevelSet(t *testing.T) {
	s := DefaultLevels()
	if s.Has(LevelTrace) || s.Has(LevelDebug) {
		t.Fatalf("default set should exclude TRACE and DEBUG, got %s", s)
	}
	if !s.Has(LevelInfo) || !s.Has(LevelWarn) || !s.Has(LevelError) {
		t.Fatalf("default set should include INFO, WARN, ERROR, got %s", s)
	}

	s = s.Toggle(LevelDebug).Toggle(LevelError)
	if got := s.String(); got != "DEBUG,INFO,WARN" {
		t.Errorf("after toggles got %q", got)
	}

	if NewLevelSet().Has(LevelInfo) {
		t.Error("empty set should not contain INFO")
	}
	if len(AllLevels.Levels()) != 5 {
		t.Errorf("AllLevels should contain 5 levels, got %v", AllLevels.Levels())
	}
	if AllLevels.Has(Level(7)) {
		t.Error("unknown level must never be a member")
	}
}

func TestLogRecordConn(t *testing.T) {
	id := int64(7)
	r := LogRecord{ConnID: &id}
	if !r.HasConn() || !r.SameConn(7) || r.SameConn(8) {
		t.Errorf("unexpected conn matching for %+v", r)
	}
	if (LogRecord{}).SameConn(0) {
		t.Error("record without conn id must not match 0")
	}
}
