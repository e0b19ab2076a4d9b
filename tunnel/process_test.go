package tunnel

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func TestTailWriter(t *testing.T) {
	w := newTailWriter(2, "test")

	w.Write([]byte("one\ntwo\n"))
	w.Write([]byte("thr"))
	w.Write([]byte("ee\r\n\nfour"))

	want := []string{"two", "three", "four"}
	if got := w.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %q, want %q", got, want)
	}
}

func TestTailWriter_BoundsUnterminatedLine(t *testing.T) {
	w := newTailWriter(2, "test")

	chunk := bytes.Repeat([]byte("x"), 1024)
	for i := 0; i < 64; i++ {
		w.Write(chunk)
	}
	w.Write([]byte("end"))

	if len(w.partial) > maxPartialLine {
		t.Errorf("partial line holds %d bytes, want at most %d", len(w.partial), maxPartialLine)
	}
	lines := w.Lines()
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "end") {
		t.Errorf("Lines() should keep the end of the line, got %d lines", len(lines))
	}

	w.Write([]byte("\nnext\n"))
	if got := w.Lines(); len(got) != 2 || got[1] != "next" || len(got[0]) > maxPartialLine {
		t.Errorf("Lines() after newline = %d lines", len(got))
	}
}

func TestDescribeExit(t *testing.T) {
	if got := describeExit(nil); got != "exit status 0" {
		t.Errorf("describeExit(nil) = %q", got)
	}
}
