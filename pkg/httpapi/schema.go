package httpapi

import (
	"encoding/json"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const saveBodySchema = `{
  "type": "object",
  "properties": {
    "data": {"type": "string"},
    "invalidate": {"type": ["boolean", "integer", "string"]},
    "preload": {"type": ["boolean", "integer", "string"]}
  },
  "required": ["invalidate", "preload"]
}`

const finishedBodySchema = `{
  "type": "object",
  "properties": {
    "score": {"type": "integer"},
    "maxScore": {"type": "integer", "minimum": 0},
    "opened": {"type": "integer"},
    "finished": {"type": "integer"},
    "time": {"type": "integer"}
  },
  "required": ["score", "maxScore"]
}`

// compileSchema compiles an in-memory schema document.
func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	url := "mem://" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}
