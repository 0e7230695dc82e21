package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/maltedev/recycle-crawler/internal/models"
)

func price(v float64) *float64 {
	return &v
}

func sampleProducts() []models.Product {
	return []models.Product{
		{ID: 100, Name: "iPhone 15", BrandName: "苹果", SeriesName: "iPhone 15 系列", CollectionID: 11, CollectionTitle: "iPhone", ImageURL: "https://img/1.png"},
		{ID: 200, Name: "Mate 60", BrandName: "华为", SubTitle: "12G+256G"},
	}
}

func TestProductRows(t *testing.T) {
	table := ProductRows(sampleProducts())

	assert.Equal(t, ProductColumns, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"苹果", "iPhone 15 系列", "iPhone", "iPhone 15", "", "100", "https://img/1.png"}, table.Rows[0])
	assert.Equal(t, []string{"华为", "", "", "Mate 60", "12G+256G", "200", ""}, table.Rows[1])
}

func TestProductRowsWithPrice(t *testing.T) {
	table := ProductRows([]models.Product{
		{ID: 1, Name: "A", MaxPrice: price(99.5)},
		{ID: 2, Name: "B"},
	})

	assert.Equal(t, "maxPrice", table.Header[len(table.Header)-1])
	assert.Equal(t, "99.5", table.Rows[0][7])
	assert.Equal(t, "", table.Rows[1][7])
}

func TestCollectionLabelFallsBackToID(t *testing.T) {
	table := ProductRows([]models.Product{{ID: 1, CollectionID: 42}})
	assert.Equal(t, "42", table.Rows[0][2])
}

func TestRecordRows(t *testing.T) {
	tests := []struct {
		name    string
		kind    models.Kind
		records []models.Record
		header  string
		rows    int
	}{
		{"products", models.KindProduct, []models.Record{models.Product{ID: 1}}, "brand", 1},
		{"brands", models.KindBrand, []models.Record{models.Brand{ID: 1}, models.Brand{ID: 2}}, "brandId", 2},
		{"groups", models.KindCategoryGroup, []models.Record{models.CategoryGroup{GroupName: "Hot", Brands: []models.Brand{{ID: 1}, {ID: 2}}}}, "frontCategoryId", 2},
		{"collections", models.KindCollection, []models.Record{models.Collection{ID: 3}}, "collectionId", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := RecordRows(tt.kind, tt.records)
			require.NoError(t, err)
			assert.Equal(t, tt.header, table.Header[0])
			assert.Len(t, table.Rows, tt.rows)
		})
	}

	_, err := RecordRows(models.KindUnrecognized, nil)
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, ProductRows(sampleProducts())))

	data := buf.Bytes()
	require.True(t, bytes.HasPrefix(data, utf8BOM))

	records, err := csv.NewReader(bytes.NewReader(data[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ProductColumns, records[0])
	assert.Equal(t, "苹果", records[1][0])
}

func TestWriteJSONKeepsColumnOrderAndUnicode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, ProductRows(sampleProducts())))

	out := buf.String()
	assert.Contains(t, out, `"brand": "苹果"`)
	assert.Less(t, bytes.Index(buf.Bytes(), []byte(`"brand"`)), bytes.Index(buf.Bytes(), []byte(`"productName"`)))

	var decoded []map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "Mate 60", decoded[1]["productName"])
	assert.Equal(t, "", decoded[1]["collection"])
}

func TestWriteJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Table{Header: ProductColumns}))

	var decoded []map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Empty(t, decoded)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, ProductRows(sampleProducts())))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("products")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "brand", rows[0][0])
	assert.Equal(t, "iPhone 15", rows[1][3])
}

func TestRenderTableLimit(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, ProductRows(sampleProducts()), 1)

	out := buf.String()
	assert.Contains(t, out, "iPhone 15")
	assert.NotContains(t, out, "Mate 60")
	assert.Contains(t, out, "1 MORE ROWS")
}

func TestFilename(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "products_20240309_140507.csv", Filename("products", FormatCSV, now))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("parquet")
	assert.Error(t, err)
}

func TestExporter(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(dir, []Format{FormatCSV, FormatJSON, FormatXLSX}, nil)
	e.Now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	paths, err := e.Export("watch", ProductRows(sampleProducts()))
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "watch_20240102_030405.csv"), paths[0])

	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	_, err = e.Export("empty", ProductRows(nil))
	assert.ErrorIs(t, err, ErrNoRows)
}
