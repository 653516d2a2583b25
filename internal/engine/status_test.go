package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/deixis/actionrunner/internal/action"
	"github.com/deixis/actionrunner/internal/protocol"
	"pgregory.net/rapid"
)

func line(status, result string) string {
	if status == "" {
		return protocol.Delimiter + result + protocol.Delimiter
	}
	return protocol.Delimiter + status + protocol.Delimiter + result + protocol.Delimiter
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		in         Outcome
		wantStatus action.Status
		wantResult any
		wantStdout string
		wantExit   int
	}{
		{
			name:       "no result line, exit 0",
			in:         Outcome{Stdout: "hello\n"},
			wantStatus: action.StatusSucceeded,
			wantResult: "None",
			wantStdout: "hello\n",
		},
		{
			name:       "no result line, exit 2",
			in:         Outcome{ExitCode: 2, Stdout: "hello\n"},
			wantStatus: action.StatusFailed,
			wantResult: "None",
			wantStdout: "hello\n",
			wantExit:   2,
		},
		{
			name:       "explicit true beats exit code",
			in:         Outcome{ExitCode: 1, Stdout: line("True", `"ok"`)},
			wantStatus: action.StatusSucceeded,
			wantResult: "ok",
			wantExit:   1,
		},
		{
			name:       "explicit false beats exit code",
			in:         Outcome{Stdout: "log\n" + line("False", `"boom"`)},
			wantStatus: action.StatusFailed,
			wantResult: "boom",
			wantStdout: "log\n",
		},
		{
			name:       "result without status uses exit code",
			in:         Outcome{Stdout: line("", "[1,4,6,4,1]")},
			wantStatus: action.StatusSucceeded,
			wantResult: []any{1.0, 4.0, 6.0, 4.0, 1.0},
		},
		{
			name:       "unrecognised status uses exit code",
			in:         Outcome{ExitCode: 1, Stdout: line("maybe", "1")},
			wantStatus: action.StatusFailed,
			wantResult: 1.0,
			wantExit:   1,
		},
		{
			name:       "undecodable result falls back to text",
			in:         Outcome{Stdout: line("True", "{not json")},
			wantStatus: action.StatusSucceeded,
			wantResult: "{not json",
		},
		{
			name:       "raw result skips extraction",
			in:         Outcome{Stdout: "  " + line("False", "1") + "\n", RawResult: true},
			wantStatus: action.StatusSucceeded,
			wantResult: line("False", "1"),
			wantStdout: "  " + line("False", "1") + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", got.Status, tt.wantStatus)
			}
			if !equalResult(got.Result, tt.wantResult) {
				t.Errorf("Result = %#v, want %#v", got.Result, tt.wantResult)
			}
			if got.Stdout != tt.wantStdout {
				t.Errorf("Stdout = %q, want %q", got.Stdout, tt.wantStdout)
			}
			if got.ExitCode != tt.wantExit {
				t.Errorf("ExitCode = %d, want %d", got.ExitCode, tt.wantExit)
			}
			if got.Error != "" {
				t.Errorf("Error = %q, want empty", got.Error)
			}
		})
	}
}

func equalResult(a, b any) bool {
	as, aok := a.([]any)
	bs, bok := b.([]any)
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
		return true
	}
	return a == b
}

func TestClassify_TimeoutWins(t *testing.T) {
	got := Classify(Outcome{
		ExitCode: 0,
		TimedOut: true,
		Timeout:  30 * time.Second,
		Stdout:   "partial\n" + line("True", `"done"`),
		Stderr:   "err\n",
	})
	if got.Status != action.StatusTimedOut {
		t.Errorf("Status = %q, want timed_out", got.Status)
	}
	if got.Result != "None" {
		t.Errorf("Result = %#v, want None", got.Result)
	}
	if got.ExitCode != -9 {
		t.Errorf("ExitCode = %d, want -9", got.ExitCode)
	}
	if got.Error != "Action failed to complete in 30 seconds" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.Stdout != "partial\n" || got.Stderr != "err\n" {
		t.Errorf("Stdout, Stderr = %q, %q", got.Stdout, got.Stderr)
	}
}

func TestRepresentable(t *testing.T) {
	if got := representable([]any{1.0, "a"}); !equalResult(got, []any{1.0, "a"}) {
		t.Errorf("representable(slice) = %#v, want unchanged", got)
	}
	got := representable(map[string]any{"f": func() {}})
	if s, ok := got.(string); !ok || !strings.HasPrefix(s, "map[f:0x") {
		t.Errorf("representable(func map) = %#v, want its text", got)
	}
}

// Without a result line the output is untouched and the status follows the
// exit code.
func TestClassify_NoResultLineProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stdout := rapid.StringMatching(`[a-z \n]{0,64}`).Draw(t, "stdout")
		code := rapid.IntRange(0, 255).Draw(t, "code")

		got := Classify(Outcome{ExitCode: code, Stdout: stdout})
		if got.Stdout != stdout {
			t.Fatalf("Stdout = %q, want %q", got.Stdout, stdout)
		}
		want := action.StatusFailed
		if code == 0 {
			want = action.StatusSucceeded
		}
		if got.Status != want {
			t.Fatalf("Status = %q for exit %d, want %q", got.Status, code, want)
		}
		if got.Result != action.NoneResult {
			t.Fatalf("Result = %#v, want None", got.Result)
		}
	})
}
