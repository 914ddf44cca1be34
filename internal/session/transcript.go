package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/vinayprograms/crew/internal/model"
)

// JSONL record types for transcript export.
const (
	RecordTypeHeader = "header" // Session metadata (first line)
	RecordTypeTurn   = "turn"   // One transcript entry
)

// JSONLRecord is one line of an exported transcript.
type JSONLRecord struct {
	RecordType string `json:"_type"`

	// Header fields
	ID        string    `json:"id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	TeamID    string    `json:"team_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	// Turn fields
	Seq  int         `json:"seq,omitempty"`
	Turn *model.Turn `json:"turn,omitempty"`
}

// WriteTranscript streams sess as JSONL: one header line, then one line
// per turn.
func WriteTranscript(w io.Writer, sess *Session) error {
	enc := json.NewEncoder(w)
	header := JSONLRecord{
		RecordType: RecordTypeHeader,
		ID:         sess.ID,
		AgentID:    sess.AgentID,
		TaskID:     sess.TaskID,
		TeamID:     sess.TeamID,
		CreatedAt:  sess.CreatedAt,
	}
	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i := range sess.Chat {
		turn := sess.Chat[i]
		if err := enc.Encode(JSONLRecord{RecordType: RecordTypeTurn, Seq: i + 1, Turn: &turn}); err != nil {
			return fmt.Errorf("failed to write turn %d: %w", i+1, err)
		}
	}
	return nil
}

// ReadTranscript parses a transcript written by WriteTranscript.
func ReadTranscript(r io.Reader) (*Session, error) {
	sess := &Session{Chat: []model.Turn{}}

	// bufio.Reader instead of Scanner: no line length limit
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if perr := parseRecord(bytes.TrimSpace(line), sess); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading JSONL: %w", err)
		}
	}
	return sess, nil
}

func parseRecord(line []byte, sess *Session) error {
	var record JSONLRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to parse JSONL line: %w", err)
	}
	switch record.RecordType {
	case RecordTypeHeader:
		sess.ID = record.ID
		sess.AgentID = record.AgentID
		sess.TaskID = record.TaskID
		sess.TeamID = record.TeamID
		sess.CreatedAt = record.CreatedAt
	case RecordTypeTurn:
		if record.Turn != nil {
			sess.Chat = append(sess.Chat, *record.Turn)
		}
	}
	return nil
}
