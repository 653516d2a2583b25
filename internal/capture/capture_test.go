package capture

import (
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deixis/actionrunner/internal/action"
	"github.com/deixis/actionrunner/internal/protocol"
)

type memSink struct {
	mu   sync.Mutex
	recs []action.OutputRecord
}

func (s *memSink) Append(rec action.OutputRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
}

func (s *memSink) byStream(kind action.Stream) []action.OutputRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []action.OutputRecord
	for _, r := range s.recs {
		if r.Stream == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func feed(w *io.PipeWriter, lines []string) {
	for _, l := range lines {
		_, _ = io.WriteString(w, l)
	}
	_ = w.Close()
}

func TestCapture_PersistsAllButEnvelope(t *testing.T) {
	stdoutLines := []string{
		"pre result line 1\n",
		"pre result line 2\n",
		protocol.Delimiter + "True" + protocol.Delimiter + "\n",
		"post result line 1",
	}
	stderrLines := []string{"stderr line 1\n", "stderr line 2\n", "stderr line 3\n"}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	sink := &memSink{}
	c := Start(outR, errR, Options{ExecutionID: "e1", RunnerRef: "python-script", Sink: sink})
	go feed(outW, stdoutLines)
	go feed(errW, stderrLines)

	out, err := c.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Stdout != strings.Join(stdoutLines, "") {
		t.Errorf("Stdout = %q", out.Stdout)
	}
	if out.Stderr != strings.Join(stderrLines, "") {
		t.Errorf("Stderr = %q", out.Stderr)
	}

	recs := sink.byStream(action.Stdout)
	if len(recs) != 3 {
		t.Fatalf("stdout records = %d, want 3", len(recs))
	}
	wantData := []string{stdoutLines[0], stdoutLines[1], stdoutLines[3]}
	for i, r := range recs {
		if r.Sequence != i {
			t.Errorf("recs[%d].Sequence = %d, want %d", i, r.Sequence, i)
		}
		if r.Data != wantData[i] {
			t.Errorf("recs[%d].Data = %q, want %q", i, r.Data, wantData[i])
		}
		if r.RunnerRef != "python-script" || r.ExecutionID != "e1" {
			t.Errorf("recs[%d] = %+v, want runner_ref and execution_id set", i, r)
		}
	}

	errRecs := sink.byStream(action.Stderr)
	if len(errRecs) != 3 {
		t.Fatalf("stderr records = %d, want 3", len(errRecs))
	}
	for i, r := range errRecs {
		if r.Data != stderrLines[i] {
			t.Errorf("errRecs[%d].Data = %q, want %q", i, r.Data, stderrLines[i])
		}
	}

	if out.Lines[action.Stdout] != 4 || out.Persisted[action.Stdout] != 3 {
		t.Errorf("Lines = %v, Persisted = %v", out.Lines, out.Persisted)
	}
}

func TestCapture_NoSink(t *testing.T) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	c := Start(outR, errR, Options{ExecutionID: "e1"})
	go feed(outW, []string{"a\n", "b\n"})
	go feed(errW, []string{"c"})

	out, err := c.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Stdout != "a\nb\n" || out.Stderr != "c" {
		t.Errorf("output = %+v", out)
	}
	if out.Persisted[action.Stdout] != 0 || out.Persisted[action.Stderr] != 0 {
		t.Errorf("Persisted = %v, want none", out.Persisted)
	}
}

func TestCapture_StreamsDoNotBlockEachOther(t *testing.T) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	c := Start(outR, errR, Options{})

	// stderr is written in full while stdout stays open.
	feed(errW, []string{strings.Repeat("x", 1<<16) + "\n"})
	_, _ = io.WriteString(outW, "late\n")
	_ = outW.Close()

	out, err := c.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Stdout != "late\n" {
		t.Errorf("Stdout = %q", out.Stdout)
	}
}

func TestCapture_StopFlushesPartialLine(t *testing.T) {
	outR, outW := io.Pipe()
	errR, _ := io.Pipe()
	c := Start(outR, errR, Options{})

	go func() { _, _ = io.WriteString(outW, "partial") }()
	time.Sleep(50 * time.Millisecond)
	c.Stop()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("readers did not stop")
	}
	out, err := c.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Stdout != "partial" {
		t.Errorf("Stdout = %q, want %q", out.Stdout, "partial")
	}
}
