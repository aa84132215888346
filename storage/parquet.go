package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"barflow/models"
)

// memoryFile is a write-only source.ParquetFile backed by a buffer.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memoryFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memoryFile) Read(b []byte) (int, error)                { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                              { return nil }
func (m *memoryFile) Bytes() []byte                             { return m.buffer.Bytes() }

type schemaNode struct {
	Tag    string       `json:"Tag"`
	Fields []schemaNode `json:"Fields,omitempty"`
}

var tagReplacer = strings.NewReplacer(",", "_", "=", "_", " ", "_")

// parquetSchema maps every table column to an OPTIONAL DOUBLE. JSON records
// address fields by their in-name C<i>.
func parquetSchema(cols []string) (string, error) {
	root := schemaNode{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	root.Fields = append(root.Fields, schemaNode{
		Tag: "name=timestamp, inname=Timestamp, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=REQUIRED",
	})
	for i, c := range cols {
		root.Fields = append(root.Fields, schemaNode{
			Tag: fmt.Sprintf("name=%s, inname=C%d, type=DOUBLE, repetitiontype=OPTIONAL", tagReplacer.Replace(c), i),
		})
	}
	data, err := json.Marshal(root)
	return string(data), err
}

// MarshalParquet encodes t as a snappy-compressed parquet file. Null and
// non-finite cells are written as nulls.
func MarshalParquet(t *models.WideTable) ([]byte, error) {
	cols := t.Columns()
	schema, err := parquetSchema(cols)
	if err != nil {
		return nil, fmt.Errorf("failed to build parquet schema: %w", err)
	}

	fw := newMemoryFile()
	pw, err := writer.NewJSONWriter(schema, fw, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, d := range t.Index() {
		rec := make(map[string]any, len(cols)+1)
		rec["Timestamp"] = d.Format(models.DateLayout)
		for j, c := range cols {
			v := t.Cell(c, i)
			if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
				continue
			}
			rec[fmt.Sprintf("C%d", j)] = v.Float64
		}
		line, err := json.Marshal(rec)
		if err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		if err := pw.Write(string(line)); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
