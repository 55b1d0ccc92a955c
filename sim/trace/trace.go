package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Level controls which records are kept.
type Level string

const (
	// LevelNone keeps nothing.
	LevelNone Level = "none"
	// LevelTrips keeps trip and leg transitions.
	LevelTrips Level = "trips"
	// LevelFull keeps every record.
	LevelFull Level = "full"
)

// validLevels maps accepted trace level strings.
var validLevels = map[Level]bool{
	LevelNone:  true,
	LevelTrips: true,
	LevelFull:  true,
	"":         true, // empty defaults to full
}

// IsValidLevel returns true if the given level string is a recognized trace level.
func IsValidLevel(level string) bool {
	return validLevels[Level(level)]
}

// Log collects records in dispatch order and numbers them.
type Log struct {
	Level   Level
	next    int64
	records []Record
}

// NewLog creates a Log ready for recording.
func NewLog(level Level) *Log {
	if level == "" {
		level = LevelFull
	}
	return &Log{Level: level, records: make([]Record, 0)}
}

// Keeps reports whether records of kind are recorded at this level.
func (l *Log) Keeps(kind Kind) bool {
	switch l.Level {
	case LevelNone:
		return false
	case LevelTrips:
		return tripKinds[kind]
	default:
		return true
	}
}

// Append numbers r and records it if the level keeps its kind.
func (l *Log) Append(r Record) {
	if !l.Keeps(r.Kind) {
		return
	}
	l.next++
	r.Seq = l.next
	l.records = append(l.records, r)
}

// Records returns the recorded entries. Callers must not modify the slice.
func (l *Log) Records() []Record { return l.records }

// Len returns the number of recorded entries.
func (l *Log) Len() int { return len(l.records) }

// RestoreLog rebuilds a log that continues numbering after records.
func RestoreLog(level Level, records []Record) *Log {
	l := NewLog(level)
	l.records = append(l.records, records...)
	if n := len(records); n > 0 {
		l.next = records[n-1].Seq
	}
	return l
}

// WriteJSONL writes one JSON object per line. Output is byte-stable for equal
// inputs.
func WriteJSONL(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding record %d: %w", r.Seq, err)
		}
	}
	return bw.Flush()
}

// ReadJSONL parses the output of WriteJSONL.
func ReadJSONL(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	var out []Record
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
