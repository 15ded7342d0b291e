// Package persistence encodes catalog snapshots as line-delimited JSON.
package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// maxRecordSize bounds a single encoded record.
const maxRecordSize = 64 << 20

// Record is the full history of one key.
type Record struct {
	Key      string   `json:"key"`
	Versions []string `json:"versions"`
}

// Encoder writes records to an underlying writer, one per line.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder returns an Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// WriteRecord appends rec as a single JSON line.
func (e *Encoder) WriteRecord(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Flush writes any buffered records to the underlying writer.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

// Replay decodes every record in r and hands it to applyFunc in order.
func Replay(r io.Reader, applyFunc func(rec Record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxRecordSize)

	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("decode record on line %d: %w", line, err)
		}
		if err := applyFunc(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}
