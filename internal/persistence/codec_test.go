package persistence

import (
	"bufio"
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestEncoderReplay(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	records := []Record{
		{Key: "a", Versions: []string{"1", "2"}},
		{Key: "b", Versions: []string{"line\nbreak"}},
	}
	for _, rec := range records {
		if err := enc.WriteRecord(rec); err != nil {
			t.Fatalf("failed to write record: %v", err)
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}

	var got []Record
	err := Replay(&buf, func(rec Record) error {
		got = append(got, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected replay error: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(got))
	}
	for i := range records {
		if got[i].Key != records[i].Key || !slices.Equal(got[i].Versions, records[i].Versions) {
			t.Errorf("record %d: expected %+v, got %+v", i, records[i], got[i])
		}
	}
}

func TestReplay_EmptyInput(t *testing.T) {
	calls := 0
	if err := Replay(strings.NewReader(""), func(Record) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("expected no error for empty input, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no callbacks, got %d", calls)
	}
}

func TestReplay_Errors(t *testing.T) {
	// Malformed line
	err := Replay(strings.NewReader("{\"key\":\"a\"}\nnot json\n"), func(Record) error { return nil })
	if err == nil {
		t.Fatal("expected an error for malformed input, but got none")
	}

	// Callback error stops replay
	stop := errors.New("stop")
	calls := 0
	err = Replay(strings.NewReader("{\"key\":\"a\"}\n{\"key\":\"b\"}\n"), func(Record) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected replay to stop after first record, got %d calls", calls)
	}
}

func TestEncoderReplay_LargeRecord(t *testing.T) {
	// Larger than bufio.MaxScanTokenSize once encoded.
	big := strings.Repeat("v", 100<<10)

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.WriteRecord(Record{Key: "big", Versions: []string{"small", big}}); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}
	if err := enc.WriteRecord(Record{Key: "after", Versions: []string{"1"}}); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	if buf.Len() <= bufio.MaxScanTokenSize {
		t.Fatalf("expected encoded size above %d, got %d", bufio.MaxScanTokenSize, buf.Len())
	}

	var got []Record
	if err := Replay(&buf, func(rec Record) error {
		got = append(got, rec)
		return nil
	}); err != nil {
		t.Fatalf("unexpected replay error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Key != "big" || len(got[0].Versions) != 2 || got[0].Versions[1] != big {
		t.Errorf("large record was not replayed intact")
	}
	if got[1].Key != "after" {
		t.Errorf("expected record after the large one, got %+v", got[1])
	}
}
