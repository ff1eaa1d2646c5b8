package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/Hako/common/environment"
)

func TestSource_Defaults(t *testing.T) {
	src := environment.FromMap("HAKO_", map[string]string{
		"HAKO_NAME":     "demo",
		"HAKO_ATTEMPTS": "7",
		"HAKO_BAD_INT":  "seven",
		"HAKO_DEBUG":    "true",
		"HAKO_WAIT":     "250ms",
		"HAKO_BLANK":    "   ",
	})

	if got := src.String("NAME", "x"); got != "demo" {
		t.Errorf("String = %q, want demo", got)
	}
	if got := src.String("BLANK", "fallback"); got != "fallback" {
		t.Errorf("blank String = %q, want fallback", got)
	}
	if got := src.Int("ATTEMPTS", 1); got != 7 {
		t.Errorf("Int = %d, want 7", got)
	}
	if got := src.Int("BAD_INT", 3); got != 3 {
		t.Errorf("unparsable Int = %d, want default 3", got)
	}
	if !src.Bool("DEBUG", false) {
		t.Error("Bool = false, want true")
	}
	if got := src.Duration("WAIT", time.Second); got != 250*time.Millisecond {
		t.Errorf("Duration = %v, want 250ms", got)
	}
	if got := src.Duration("MISSING", time.Second); got != time.Second {
		t.Errorf("missing Duration = %v, want 1s", got)
	}
	if got := src.Key("NAME"); got != "HAKO_NAME" {
		t.Errorf("Key = %q", got)
	}
}

func TestSource_ReadsProcessEnvironment(t *testing.T) {
	t.Setenv("HAKOTEST_LEVEL", "debug")
	if got := environment.New("HAKOTEST_").String("LEVEL", "info"); got != "debug" {
		t.Errorf("got %q, want debug", got)
	}
}

func TestParsePairs(t *testing.T) {
	cases := []struct {
		name    string
		in      []string
		want    map[string]string
		wantErr bool
	}{
		{name: "simple", in: []string{"A=1", "B=two"}, want: map[string]string{"A": "1", "B": "two"}},
		{name: "value with equals", in: []string{"URL=http://x/?a=b"}, want: map[string]string{"URL": "http://x/?a=b"}},
		{name: "empty value", in: []string{"EMPTY="}, want: map[string]string{"EMPTY": ""}},
		{name: "later wins", in: []string{"A=1", "A=2"}, want: map[string]string{"A": "2"}},
		{name: "missing separator", in: []string{"NOPE"}, wantErr: true},
		{name: "empty key", in: []string{"=value"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := environment.ParsePairs(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestFormatPairs(t *testing.T) {
	got := environment.FormatPairs(map[string]string{"B": "2", "A": "1"})
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Errorf("got %v", got)
	}
}
