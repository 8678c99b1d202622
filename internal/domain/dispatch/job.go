// Package dispatch runs score imports inline or through a job queue behind
// one interface, and translates outcomes for HTTP callers.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/okian/scoreingest/internal/domain/importer"
	"github.com/okian/scoreingest/internal/domain/model"
)

// JobKind is the queue kind of score import jobs.
const JobKind = "score-import"

// JobData is the input of one import, identical for both modes and
// JSON-serialisable for the queue.
type JobData struct {
	ImportID        string           `json:"importID"`
	ImportType      model.ImportType `json:"importType"`
	UserID          int              `json:"userID"`
	UserIntent      bool             `json:"userIntent"`
	ParserArguments map[string]any   `json:"parserArguments"`
}

func (j JobData) request() importer.Request {
	return importer.Request{
		ImportID:   j.ImportID,
		ImportType: j.ImportType,
		UserID:     j.UserID,
		UserIntent: j.UserIntent,
		Args:       Rehydrate(j.ParserArguments),
	}
}

// Buffer is binary data that survives a JSON transport as
// {"type":"Buffer","data":[...]}.
type Buffer []byte

const bufferTag = "Buffer"

type bufferEnvelope struct {
	Type string `json:"type"`
	Data []int  `json:"data"`
}

// MarshalJSON encodes the buffer envelope.
func (b Buffer) MarshalJSON() ([]byte, error) {
	data := make([]int, len(b))
	for i, c := range b {
		data[i] = int(c)
	}
	return json.Marshal(bufferEnvelope{Type: bufferTag, Data: data})
}

// UnmarshalJSON decodes the buffer envelope.
func (b *Buffer) UnmarshalJSON(raw []byte) error {
	var env bufferEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	if env.Type != bufferTag {
		return fmt.Errorf("%w: envelope type %q", ErrBadEnvelope, env.Type)
	}
	out := make([]byte, len(env.Data))
	for i, n := range env.Data {
		if n < 0 || n > 255 {
			return fmt.Errorf("%w: byte %d out of range", ErrBadEnvelope, i)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// Rehydrate returns a copy of args in which every buffer envelope that a
// JSON transport flattened into a plain object is turned back into []byte,
// at any depth. Arguments without envelopes come back unchanged.
func Rehydrate(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = rehydrateValue(v)
	}
	return out
}

func rehydrateValue(v any) any {
	switch t := v.(type) {
	case Buffer:
		return []byte(t)
	case map[string]any:
		if t["type"] == bufferTag {
			if b, err := importer.ByteList(t["data"]); err == nil {
				return b
			}
		}
		return Rehydrate(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = rehydrateValue(x)
		}
		return out
	}
	return v
}
