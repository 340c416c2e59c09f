package queue

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// agentJobSchema describes the fields an agent job must carry before the
// processor will run it. Jobs failing validation are dead-lettered with the
// validator's message.
const agentJobSchema = `{
  "type": "object",
  "required": ["id", "channel", "thread_ts", "user", "prompt"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "channel": {"type": "string", "minLength": 1},
    "thread_ts": {"type": "string", "minLength": 1},
    "user": {"type": "string", "minLength": 1},
    "prompt": {"type": "string", "minLength": 1}
  }
}`

var compiledAgentJobSchema = mustCompileSchema(agentJobSchema)

func mustCompileSchema(src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("queue: unmarshal job schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("job.json", doc); err != nil {
		panic(fmt.Sprintf("queue: add job schema resource: %v", err))
	}
	schema, err := c.Compile("job.json")
	if err != nil {
		panic(fmt.Sprintf("queue: compile job schema: %v", err))
	}
	return schema
}

// ValidateAgentJob checks a raw job document against the agent-job schema.
// The raw bytes are re-parsed with jsonschema.UnmarshalJSON for the number
// handling the validator requires.
func ValidateAgentJob(raw []byte) error {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("invalid job JSON: %w", err)
	}
	if err := compiledAgentJobSchema.Validate(parsed); err != nil {
		return fmt.Errorf("invalid agent job: %w", err)
	}
	return nil
}
