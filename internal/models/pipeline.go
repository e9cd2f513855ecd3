package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// StageStatus is the completion state of one named stage of a record.
type StageStatus struct {
	Completed   bool       `json:"completado"`
	CompletedAt *time.Time `json:"fecha"`
}

// PipelineSummary counts tracked records by progress.
type PipelineSummary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"inProgress"`
	NotStarted int `json:"notStarted"`
}

// PipelineState tracks which stages of an ordered pipeline a record has
// completed. Stage order is significant and is preserved on the wire as the
// key order of the "modulos" object.
type PipelineState struct {
	RecordID    string
	TotalStages int
	order       []string
	stages      map[string]StageStatus
}

// NewPipelineState returns a state with every stage incomplete. Duplicate and
// empty stage names are ignored.
func NewPipelineState(recordID string, stages []string) *PipelineState {
	s := &PipelineState{
		RecordID: recordID,
		stages:   make(map[string]StageStatus, len(stages)),
	}
	for _, name := range stages {
		if name == "" {
			continue
		}
		if _, dup := s.stages[name]; dup {
			continue
		}
		s.order = append(s.order, name)
		s.stages[name] = StageStatus{}
	}
	s.TotalStages = len(s.order)
	return s
}

// Stages returns the stage names in pipeline order.
func (s *PipelineState) Stages() []string {
	return append([]string(nil), s.order...)
}

// Stage returns the status of the named stage.
func (s *PipelineState) Stage(name string) (StageStatus, bool) {
	st, ok := s.stages[name]
	return st, ok
}

// CompletedCount is the number of completed stages.
func (s *PipelineState) CompletedCount() int {
	n := 0
	for _, st := range s.stages {
		if st.Completed {
			n++
		}
	}
	return n
}

// Complete marks the named stage completed at ts. It returns false when the
// stage is unknown or already completed.
func (s *PipelineState) Complete(name string, ts time.Time) bool {
	st, ok := s.stages[name]
	if !ok || st.Completed {
		return false
	}
	s.stages[name] = StageStatus{Completed: true, CompletedAt: &ts}
	return true
}

// PredecessorsComplete reports whether every stage before name is completed.
func (s *PipelineState) PredecessorsComplete(name string) bool {
	for _, prior := range s.order {
		if prior == name {
			return true
		}
		if !s.stages[prior].Completed {
			return false
		}
	}
	return false
}

// Clone returns an independent copy.
func (s *PipelineState) Clone() *PipelineState {
	c := &PipelineState{
		RecordID:    s.RecordID,
		TotalStages: s.TotalStages,
		order:       append([]string(nil), s.order...),
		stages:      make(map[string]StageStatus, len(s.stages)),
	}
	for k, v := range s.stages {
		if v.CompletedAt != nil {
			ts := *v.CompletedAt
			v.CompletedAt = &ts
		}
		c.stages[k] = v
	}
	return c
}

// MarshalJSON writes {"recordId", "totalStages", "modulos": {stage: {"completado", "fecha"}}}.
func (s *PipelineState) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"recordId":`)
	id, err := json.Marshal(s.RecordID)
	if err != nil {
		return nil, err
	}
	buf.Write(id)
	fmt.Fprintf(&buf, `,"totalStages":%d,"modulos":{`, s.TotalStages)
	for i, name := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.stages[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the shape written by MarshalJSON, keeping the key order of
// "modulos" as the stage order.
func (s *PipelineState) UnmarshalJSON(data []byte) error {
	var raw struct {
		RecordID    string          `json:"recordId"`
		TotalStages int             `json:"totalStages"`
		Modulos     json.RawMessage `json:"modulos"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode pipeline state: %w", err)
	}
	order, stages, err := decodeOrderedStages(raw.Modulos)
	if err != nil {
		return fmt.Errorf("decode pipeline state %q: %w", raw.RecordID, err)
	}
	s.RecordID = raw.RecordID
	s.order = order
	s.stages = stages
	s.TotalStages = raw.TotalStages
	if s.TotalStages < len(order) {
		s.TotalStages = len(order)
	}
	return nil
}

func decodeOrderedStages(data json.RawMessage) ([]string, map[string]StageStatus, error) {
	stages := map[string]StageStatus{}
	if len(data) == 0 || string(data) == "null" {
		return nil, stages, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("modulos: expected object, got %v", tok)
	}
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("modulos: expected stage name, got %v", tok)
		}
		var st StageStatus
		if err := dec.Decode(&st); err != nil {
			return nil, nil, fmt.Errorf("stage %q: %w", name, err)
		}
		if _, dup := stages[name]; !dup {
			order = append(order, name)
		}
		stages[name] = st
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return order, stages, nil
}
