// Package schema infers tabular schemas from report samples.
//
// Report sources deliver CSV (or markup re-serialized to CSV) with no type
// information, so the warehouse table definition has to be guessed from the
// data itself. The package keeps inference deliberately coarse and
// deterministic:
//
//   - The type lattice is fixed: STRING, INTEGER, FLOAT, DATETIME.
//   - A column only gets a non-STRING type when every sampled value parses
//     as that type; any failure widens the column back to STRING.
//   - Identical input bytes always produce identical output, so re-running a
//     transfer over the same report is idempotent.
//
// Degraded inputs are never errors here: a header-only sample yields no
// types, and BuildSchema pads missing types with STRING. Best-effort
// ingestion is the product requirement; reports are too inconsistent for
// anything stricter.
package schema

// Canonical field types. These are the only values ever emitted.
const (
	TypeString   = "STRING"
	TypeInteger  = "INTEGER"
	TypeFloat    = "FLOAT"
	TypeDatetime = "DATETIME"
)

// Field is one column of an inferred schema. Mode is always NULLABLE:
// report columns routinely carry empty cells and the warehouse load must
// not reject them.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Mode string `json:"mode"`
}

// Schema is the ordered field list handed to the metadata store and the
// warehouse loader. Read-only after creation.
type Schema []Field

// Names returns the field names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Types returns the field types in order.
func (s Schema) Types() []string {
	types := make([]string, len(s))
	for i, f := range s {
		types[i] = f.Type
	}
	return types
}

// BuildSchema zips headers with inferred types into the final field list.
//
// Headers drive the field count. When types is shorter than headers (or
// empty, the header-only degradation), the missing entries default to
// STRING. Field names use the column sanitization variant; the digit-prefix
// rule applies because these are warehouse column identifiers.
func BuildSchema(headers, types []string) Schema {
	fields := make(Schema, 0, len(headers))
	for i, h := range headers {
		t := TypeString
		if i < len(types) && types[i] != "" {
			t = types[i]
		}
		fields = append(fields, Field{
			Name: SanitizeColumn(h),
			Type: t,
			Mode: "NULLABLE",
		})
	}
	return fields
}
