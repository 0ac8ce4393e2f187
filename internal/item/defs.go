package item

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// defsSchema constrains items.json. Keeping a schema here means a bad edit
// to the catalog file fails at startup instead of misclassifying items at
// settlement time.
const defsSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["name", "category"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"category": {
				"type": "string",
				"enum": ["weapons", "armor", "mundane", "materials",
					"herbs", "potions", "magic", "misc"]
			},
			"kind": {"type": "string", "enum": ["", "weapon", "armor", "shield"]}
		},
		"additionalProperties": false
	}
}`

// DefsFile is the parsed items.json plus its content digest.
type DefsFile struct {
	Defs   []Def
	Digest string
}

// LoadDefs reads and validates <dir>/items.json.
func LoadDefs(dir string) (DefsFile, error) {
	var out DefsFile

	path := filepath.Join(dir, "items.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	out.Digest = sha256Hex(raw)

	schema, err := jsonschema.CompileString("items.schema.json", defsSchema)
	if err != nil {
		return out, fmt.Errorf("compile items schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return out, fmt.Errorf("items.json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return out, fmt.Errorf("items.json: %w", err)
	}

	if err := json.Unmarshal(raw, &out.Defs); err != nil {
		return out, fmt.Errorf("items.json: %w", err)
	}
	seen := map[string]bool{}
	for _, d := range out.Defs {
		key := strings.ToLower(d.Name)
		if seen[key] {
			return out, fmt.Errorf("items.json: duplicate name %q", d.Name)
		}
		seen[key] = true
	}
	return out, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
