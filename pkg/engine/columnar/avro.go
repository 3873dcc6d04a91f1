package columnar

import (
	"fmt"
	"io"
	"regexp"

	"github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/plexload/pkg/schema"
)

type avroWriter struct {
	table     *schema.Table
	unions    []string
	ocfWriter *goavro.OCFWriter
}

func newAvroWriter(w io.Writer, t *schema.Table) (*avroWriter, error) {
	avroSchema, err := AvroSchema(t)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create Avro codec: %w", err)
	}
	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Avro writer: %w", err)
	}

	unions := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		if c.Nullable {
			unions[i] = avroUnionName(c.Type)
		}
	}
	return &avroWriter{table: t, unions: unions, ocfWriter: ocfWriter}, nil
}

var invalidAvroName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// avroName turns an identifier into a valid Avro name.
func avroName(s string) string {
	s = invalidAvroName.ReplaceAllString(s, "_")
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "_" + s
	}
	return s
}

func avroType(t schema.ColumnType) (interface{}, error) {
	switch t {
	case schema.TypeInt64:
		return "long", nil
	case schema.TypeFloat64:
		return "double", nil
	case schema.TypeText:
		return "string", nil
	case schema.TypeBool:
		return "boolean", nil
	case schema.TypeTimestamp:
		return map[string]interface{}{"type": "long", "logicalType": "timestamp-micros"}, nil
	default:
		return nil, fmt.Errorf("unsupported column type %s", t)
	}
}

// avroUnionName is the branch name goavro expects for a nullable value.
func avroUnionName(t schema.ColumnType) string {
	switch t {
	case schema.TypeInt64:
		return "long"
	case schema.TypeFloat64:
		return "double"
	case schema.TypeBool:
		return "boolean"
	case schema.TypeTimestamp:
		return "long.timestamp-micros"
	default:
		return "string"
	}
}

// AvroSchema renders the record schema of a table.
func AvroSchema(t *schema.Table) (string, error) {
	fields := make([]map[string]interface{}, 0, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := avroType(c.Type)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", c.Name, err)
		}
		field := map[string]interface{}{"name": avroName(c.Name), "type": typ}
		if c.Nullable {
			field["type"] = []interface{}{"null", typ}
			field["default"] = nil
		}
		fields = append(fields, field)
	}

	b, err := json.Marshal(map[string]interface{}{
		"type":      "record",
		"name":      avroName(t.Name),
		"namespace": avroName(t.Namespace),
		"fields":    fields,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Append writes rows as one OCF block.
func (aw *avroWriter) Append(rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	natives := make([]interface{}, len(rows))
	for r, row := range rows {
		native := make(map[string]interface{}, len(row))
		for i, v := range row {
			name := avroName(aw.table.Columns[i].Name)
			if aw.unions[i] != "" && v != nil {
				v = goavro.Union(aw.unions[i], v)
			}
			native[name] = v
		}
		natives[r] = native
	}
	if err := aw.ocfWriter.Append(natives); err != nil {
		return fmt.Errorf("failed to write Avro block: %w", err)
	}
	return nil
}

// Close is a no-op; OCF files have no footer.
func (aw *avroWriter) Close() error {
	return nil
}
