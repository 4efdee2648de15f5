package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func schemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		out := make(map[string]*jsonschema.Schema, 2)
		for name, raw := range map[string]string{NameSchema: SchemaJSON, NameEvaluate: EvaluationJSON} {
			compiler := jsonschema.NewCompiler()
			url := name + ".schema.json"
			if err := compiler.AddResource(url, strings.NewReader(raw)); err != nil {
				compileErr = fmt.Errorf("add %s schema: %w", name, err)
				return
			}
			s, err := compiler.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("compile %s schema: %w", name, err)
				return
			}
			out[name] = s
		}
		compiled = out
	})
	return compiled, compileErr
}

// Validate checks data against the JSON contract of the named prompt
// (NameSchema or NameEvaluate).
func Validate(name string, data []byte) error {
	all, err := schemas()
	if err != nil {
		return err
	}
	s, ok := all[name]
	if !ok {
		return fmt.Errorf("no JSON contract for prompt %q", name)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("json does not match %s schema: %w", name, err)
	}
	return nil
}
