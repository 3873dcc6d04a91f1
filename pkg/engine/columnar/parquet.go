package columnar

import (
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/plexload/pkg/schema"
)

type parquetWriter struct {
	arrowSchema *arrow.Schema
	builder     *array.RecordBuilder
	fileWriter  *pqarrow.FileWriter
}

func newParquetWriter(w io.Writer, t *schema.Table) (*parquetWriter, error) {
	arrowSchema, err := ArrowSchema(t)
	if err != nil {
		return nil, err
	}

	pool := memory.NewGoAllocator()
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(pool),
		pqarrow.WithStoreSchema(),
	)

	// The file writer closes its sink; the engine owns the file.
	fw, err := pqarrow.NewFileWriter(arrowSchema, struct{ io.Writer }{w}, props, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	return &parquetWriter{
		arrowSchema: arrowSchema,
		builder:     array.NewRecordBuilder(pool, arrowSchema),
		fileWriter:  fw,
	}, nil
}

// ArrowSchema maps a table onto an Arrow schema.
func ArrowSchema(t *schema.Table) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(t.Columns))
	for i, c := range t.Columns {
		typ, err := arrowType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		fields[i] = arrow.Field{Name: c.Name, Type: typ, Nullable: c.Nullable}
	}
	return arrow.NewSchema(fields, nil), nil
}

func arrowType(t schema.ColumnType) (arrow.DataType, error) {
	switch t {
	case schema.TypeInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case schema.TypeFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case schema.TypeText:
		return arrow.BinaryTypes.String, nil
	case schema.TypeBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case schema.TypeTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	default:
		return nil, fmt.Errorf("unsupported column type %s", t)
	}
}

// Append writes rows as one row group.
func (pw *parquetWriter) Append(rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		for i, v := range row {
			if err := appendValue(pw.builder.Field(i), v); err != nil {
				pw.builder.NewRecord().Release()
				return fmt.Errorf("column %s: %w", pw.arrowSchema.Field(i).Name, err)
			}
		}
	}

	record := pw.builder.NewRecord()
	defer record.Release()
	if err := pw.fileWriter.Write(record); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	return nil
}

func appendValue(builder array.Builder, value interface{}) error {
	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.Int64Builder:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("want int64, got %T", value)
		}
		b.Append(v)
	case *array.Float64Builder:
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("want float64, got %T", value)
		}
		b.Append(v)
	case *array.StringBuilder:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", value)
		}
		b.Append(v)
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", value)
		}
		b.Append(v)
	case *array.TimestampBuilder:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("want time.Time, got %T", value)
		}
		b.Append(arrow.Timestamp(v.UnixMicro()))
	default:
		return fmt.Errorf("unsupported builder type: %T", builder)
	}
	return nil
}

// Close writes the file footer.
func (pw *parquetWriter) Close() error {
	pw.builder.Release()
	if err := pw.fileWriter.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return nil
}
