package textutil

import (
	"reflect"
	"testing"
)

func TestTruncateIsRuneSafe(t *testing.T) {
	if got := Truncate("论文标题很长", 3); got != "论文标" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("expected unchanged value, got %q", got)
	}
	if got := Truncate("abc", 0); got != "abc" {
		t.Fatalf("expected unchanged value for zero max, got %q", got)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" 2401.00001, 2401.00002\n2401.00001 ,, ")
	want := []string{"2401.00001", "2401.00002"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitList = %v, want %v", got, want)
	}
}

func TestFileStem(t *testing.T) {
	cases := map[string]string{
		"2602.04705": "2602.04705",
		"cs/0601001": "cs_0601001",
		" 2602.1v2 ": "2602.1v2",
		"a b::c":     "a_b_c",
		"..":         "unknown",
		"   ":        "unknown",
	}
	for in, want := range cases {
		if got := FileStem(in); got != want {
			t.Fatalf("FileStem(%q) = %q, want %q", in, got, want)
		}
	}
}
