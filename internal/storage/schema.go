package storage

// ColumnType is a portable column type. Each backend maps it to its own DDL.
type ColumnType string

const (
	// TypeSerial is an auto-generated 64-bit primary key.
	TypeSerial ColumnType = "serial"
	TypeInt    ColumnType = "int"
	TypeBool   ColumnType = "bool"
	TypeTime   ColumnType = "time"
	// TypeKey is a short string that takes part in a key or unique constraint.
	TypeKey ColumnType = "key"
	// TypeText is an unbounded string.
	TypeText ColumnType = "text"
)

// ColumnSpec describes one column.
type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// TableSpec describes one table. PrimaryKey is only used when no column is
// TypeSerial.
type TableSpec struct {
	Name       string
	Columns    []ColumnSpec
	PrimaryKey []string
	Unique     [][]string
}

// Table names.
const (
	TableAttributeMappings  = "attribute_mappings"
	TableValueMappings      = "value_mappings"
	TableCatalogRecords     = "catalog_records"
	TableCatalogValues      = "catalog_values"
	TableDestinationOptions = "destination_options"
)

// Schema is the full set of tables, in creation order.
var Schema = []TableSpec{
	{
		Name: TableAttributeMappings,
		Columns: []ColumnSpec{
			{Name: "id", Type: TypeSerial},
			{Name: "origin_attribute", Type: TypeKey},
			{Name: "is_new", Type: TypeBool},
			{Name: "existing_code", Type: TypeText},
			{Name: "existing_label", Type: TypeText},
			{Name: "new_code", Type: TypeText},
			{Name: "new_label", Type: TypeText},
			{Name: "new_type", Type: TypeText},
			{Name: "created_at", Type: TypeTime},
			{Name: "updated_at", Type: TypeTime},
		},
		Unique: [][]string{{"origin_attribute"}},
	},
	{
		Name: TableValueMappings,
		Columns: []ColumnSpec{
			{Name: "id", Type: TypeSerial},
			{Name: "origin_attribute", Type: TypeKey},
			{Name: "origin_value", Type: TypeKey},
			{Name: "origin_uom", Type: TypeKey},
			{Name: "is_new", Type: TypeBool},
			{Name: "existing_code", Type: TypeText},
			{Name: "existing_label", Type: TypeText},
			{Name: "new_code", Type: TypeText},
			{Name: "new_label", Type: TypeText},
			{Name: "created_at", Type: TypeTime},
			{Name: "updated_at", Type: TypeTime},
		},
		Unique: [][]string{{"origin_attribute", "origin_value", "origin_uom"}},
	},
	{
		Name: TableCatalogRecords,
		Columns: []ColumnSpec{
			{Name: "seq", Type: TypeSerial},
			{Name: "record_id", Type: TypeKey},
			{Name: "identifier", Type: TypeText},
		},
		Unique: [][]string{{"record_id"}},
	},
	{
		Name: TableCatalogValues,
		Columns: []ColumnSpec{
			{Name: "record_id", Type: TypeKey},
			{Name: "position", Type: TypeInt},
			{Name: "attribute", Type: TypeText},
			{Name: "value", Type: TypeText},
			{Name: "uom", Type: TypeText, Nullable: true},
		},
		PrimaryKey: []string{"record_id", "position"},
	},
	{
		Name: TableDestinationOptions,
		Columns: []ColumnSpec{
			{Name: "attribute_code", Type: TypeKey},
			{Name: "code", Type: TypeKey},
			{Name: "label", Type: TypeText},
		},
		PrimaryKey: []string{"attribute_code", "code"},
	},
}

// ColumnNames returns the column names of t, skipping serial columns when
// withSerial is false.
func (t TableSpec) ColumnNames(withSerial bool) []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Type == TypeSerial && !withSerial {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

// SerialColumn returns the name of the auto-generated key column, if any.
func (t TableSpec) SerialColumn() (string, bool) {
	for _, c := range t.Columns {
		if c.Type == TypeSerial {
			return c.Name, true
		}
	}
	return "", false
}

// TableByName looks up a table of Schema.
func TableByName(name string) (TableSpec, bool) {
	for _, t := range Schema {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}
