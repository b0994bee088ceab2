package schemas

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed files/*
var fsSchemas embed.FS

const embedFilesDirName = "files"

// Schema names, matching the collection names.
const (
	Task    = "task"
	Note    = "note"
	Project = "project"
)

// LoadSchemas compiles every embedded schema, keyed by file name without
// extension.
func LoadSchemas() (map[string]*jsonschema.Schema, error) {
	cSchemas := make(map[string]*jsonschema.Schema)

	rSchemas, err := fsSchemas.ReadDir(embedFilesDirName)
	if err != nil {
		return nil, fmt.Errorf("LoadSchemas | %w", err)
	}

	for _, e := range rSchemas {
		var sB []byte

		sB, err = fs.ReadFile(fsSchemas, fmt.Sprintf("%s/%s", embedFilesDirName, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("LoadSchemas | %w", err)
		}

		sName := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))

		cSchemas[sName], err = jsonschema.CompileString(e.Name(), string(sB))
		if err != nil {
			return nil, fmt.Errorf("LoadSchemas | %s: %w", e.Name(), err)
		}
	}

	return cSchemas, nil
}

// Validate checks a single raw JSON document against schema.
func Validate(schema *jsonschema.Schema, raw []byte) error {
	if schema == nil {
		return fmt.Errorf("schema is nil")
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	return schema.Validate(doc)
}

// FilterValid splits a JSON array into elements that satisfy schema and the
// errors for those that don't. A nil schema accepts everything.
func FilterValid(schema *jsonschema.Schema, raw []byte) (valid []byte, invalid []error, err error) {
	if schema == nil {
		return raw, nil, nil
	}

	var elems []json.RawMessage
	if err = json.Unmarshal(raw, &elems); err != nil {
		return nil, nil, err
	}

	kept := make([]json.RawMessage, 0, len(elems))

	for x, e := range elems {
		if vErr := Validate(schema, e); vErr != nil {
			invalid = append(invalid, fmt.Errorf("element %d: %w", x, vErr))
			continue
		}

		kept = append(kept, e)
	}

	valid, err = json.Marshal(kept)

	return valid, invalid, err
}
