package tools

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// decodeArgs decodes string arguments into a tagged struct, converting
// numbers and booleans from their text form. Unknown keys are ignored
// since models routinely invent extra arguments.
func decodeArgs(toolName string, args map[string]string, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "arg",
	})
	if err != nil {
		return fmt.Errorf("%s: build decoder: %w", toolName, err)
	}
	if err := dec.Decode(args); err != nil {
		return &ArgumentError{Tool: toolName, Reason: fmt.Sprintf("invalid arguments for %s: %v", toolName, err)}
	}
	return nil
}
