package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/recycle-crawler/internal/models"
)

func classifyJSON(t *testing.T, body string) Result {
	t.Helper()
	results := ClassifyBody([]byte(body))
	require.Len(t, results, 1)
	return results[0]
}

func TestClassifyKinds(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind models.Kind
		size int
	}{
		{
			name: "brand list",
			body: `[{"id":1,"name":"A","iconUrl":"x"},{"id":2,"name":"B","iconUrl":"y"}]`,
			kind: models.KindBrand,
			size: 2,
		},
		{
			name: "spu listing",
			body: `[{"productId":5,"productName":"Phone X","title":"Phone X"}]`,
			kind: models.KindProduct,
			size: 1,
		},
		{
			name: "spu listing with icon is not a brand",
			body: `[{"productId":5,"title":"Phone X","name":"Phone X","iconUrl":"i"}]`,
			kind: models.KindProduct,
			size: 1,
		},
		{
			name: "priced listing",
			body: `[{"id":7,"name":"Tablet","maxPrice":1200,"iconUrl":"i"}]`,
			kind: models.KindProduct,
			size: 1,
		},
		{
			name: "category groups",
			body: `[{"frontCategoryId":"145","groups":[{"groupName":"Hot","details":[{"id":1,"name":"A"}]},{"groupName":"All","details":[]}]}]`,
			kind: models.KindCategoryGroup,
			size: 2,
		},
		{
			name: "collections",
			body: `[{"collectionId":30,"title":"Series 9","seriesCode":"S9"}]`,
			kind: models.KindCollection,
			size: 1,
		},
		{
			name: "enveloped brand list",
			body: `{"code":0,"data":[{"id":1,"name":"A","iconUrl":"x"}]}`,
			kind: models.KindBrand,
			size: 1,
		},
		{
			name: "enveloped brands object",
			body: `{"code":0,"data":{"brands":[{"id":1,"name":"A","iconUrl":"x"}],"total":1}}`,
			kind: models.KindBrand,
			size: 1,
		},
		{
			name: "enveloped products object",
			body: `{"code":0,"data":{"products":[{"id":3,"name":"P","maxPrice":"99.5"}]}}`,
			kind: models.KindProduct,
			size: 1,
		},
		{
			name: "non-zero code",
			body: `{"code":500,"data":[{"id":1,"name":"A","iconUrl":"x"}]}`,
			kind: models.KindUnrecognized,
		},
		{
			name: "empty array",
			body: `[]`,
			kind: models.KindUnrecognized,
		},
		{
			name: "array of scalars",
			body: `[1,2,3]`,
			kind: models.KindUnrecognized,
		},
		{
			name: "no signature matches",
			body: `[{"foo":"bar"}]`,
			kind: models.KindUnrecognized,
		},
		{
			name: "plain object",
			body: `{"status":"ok"}`,
			kind: models.KindUnrecognized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifyJSON(t, tt.body)
			assert.Equal(t, tt.kind, result.Kind)
			assert.Len(t, result.Records, tt.size)
			for _, r := range result.Records {
				assert.Equal(t, tt.kind, r.Kind())
			}
		})
	}
}

func TestClassifyMapsFields(t *testing.T) {
	t.Run("brand", func(t *testing.T) {
		result := classifyJSON(t, `[{"id":1,"name":"A","iconUrl":"x"}]`)
		require.Len(t, result.Records, 1)
		assert.Equal(t, models.Brand{ID: 1, Name: "A", IconURL: "x"}, result.Records[0])
	})

	t.Run("spu product", func(t *testing.T) {
		result := classifyJSON(t, `[{"productId":5,"title":"Phone X","subTitle":"128G",
			"imageUrl":"img","serials":{"code":"S1","name":"Series One"},"categoryId":"1"}]`)
		require.Len(t, result.Records, 1)

		p, ok := result.Records[0].(models.Product)
		require.True(t, ok)
		assert.Equal(t, int64(5), p.ID)
		assert.Equal(t, "Phone X", p.Name)
		assert.Equal(t, "128G", p.SubTitle)
		assert.Equal(t, "img", p.ImageURL)
		assert.Equal(t, "Series One", p.SeriesName)
		assert.Equal(t, "S1", p.SeriesCode)
		assert.Nil(t, p.MaxPrice)
	})

	t.Run("productName wins over title", func(t *testing.T) {
		result := classifyJSON(t, `[{"productId":5,"productName":"Full","title":"Short"}]`)
		require.Len(t, result.Records, 1)
		assert.Equal(t, "Full", result.Records[0].(models.Product).Name)
	})

	t.Run("priced product", func(t *testing.T) {
		result := classifyJSON(t, `[{"id":"42","name":"Watch","maxPrice":350.5,"brandId":9}]`)
		require.Len(t, result.Records, 1)

		p := result.Records[0].(models.Product)
		assert.Equal(t, int64(42), p.ID)
		assert.Equal(t, int64(9), p.BrandID)
		require.NotNil(t, p.MaxPrice)
		assert.InDelta(t, 350.5, *p.MaxPrice, 0.0001)
	})

	t.Run("category groups carry brands", func(t *testing.T) {
		result := classifyJSON(t, `[{"frontCategoryId":145,"groups":[{"groupName":"Hot",
			"details":[{"id":1,"name":"A"},{"id":2,"name":"B"},"junk"]}]}]`)
		require.Len(t, result.Records, 1)

		g := result.Records[0].(models.CategoryGroup)
		assert.Equal(t, "145", g.FrontCategoryID)
		assert.Equal(t, "Hot", g.GroupName)
		assert.Equal(t, []models.Brand{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}, g.Brands)
	})

	t.Run("collection", func(t *testing.T) {
		result := classifyJSON(t, `[{"collectionId":30,"name":"Series 9","code":"S9","brandId":3}]`)
		require.Len(t, result.Records, 1)
		assert.Equal(t, models.Collection{ID: 30, Title: "Series 9", SeriesCode: "S9", BrandID: 3}, result.Records[0])
	})

	t.Run("missing fields default to zero values", func(t *testing.T) {
		result := classifyJSON(t, `[{"id":1,"name":"A","iconUrl":"x"},{"iconUrl":"y"}]`)
		require.Len(t, result.Records, 2)
		assert.Equal(t, models.Brand{IconURL: "y"}, result.Records[1])
	})

	t.Run("non-numeric identifiers keep distinct keys", func(t *testing.T) {
		result := classifyJSON(t, `[{"collectionId":"S-9","title":"A"},{"collectionId":"S-10","title":"B"},{"collectionId":12,"title":"C"}]`)
		require.Len(t, result.Records, 3)

		var keys []string
		for _, r := range result.Records {
			keys = append(keys, r.Key())
		}
		assert.Equal(t, []string{"S-9", "S-10", "12"}, keys)
		assert.Equal(t, models.Collection{RawID: "S-9", Title: "A"}, result.Records[0])
	})

	t.Run("numeric strings stay integer ids", func(t *testing.T) {
		result := classifyJSON(t, `[{"productId":"77","title":"X"},{"productId":"p-77","title":"Y"}]`)
		require.Len(t, result.Records, 2)
		assert.Equal(t, int64(77), result.Records[0].(models.Product).ID)
		assert.Empty(t, result.Records[0].(models.Product).RawID)
		assert.Equal(t, "p-77", result.Records[1].Key())
	})

	t.Run("non-object elements are skipped", func(t *testing.T) {
		result := classifyJSON(t, `[{"id":1,"name":"A","iconUrl":"x"},null,7,{"id":2,"name":"B","iconUrl":"y"}]`)
		assert.Len(t, result.Records, 2)
	})
}

func TestClassifyCategoryInfo(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected *models.CategoryInfo
	}{
		{
			name:     "both identifiers present",
			body:     `[{"frontCategoryId":145,"categoryId":1,"bizType":2,"id":1,"name":"A","iconUrl":"x"}]`,
			expected: &models.CategoryInfo{CategoryID: "1", FrontCategoryID: "145", BizType: "2"},
		},
		{
			name:     "observation from an otherwise unrecognized payload",
			body:     `[{"frontCategoryId":"145","categoryId":"1"}]`,
			expected: &models.CategoryInfo{CategoryID: "1", FrontCategoryID: "145"},
		},
		{
			name: "front identifier only",
			body: `[{"frontCategoryId":"145","groups":[]}]`,
		},
		{
			name: "empty identifier",
			body: `[{"frontCategoryId":"","categoryId":"1"}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifyJSON(t, tt.body)
			assert.Equal(t, tt.expected, result.Category)
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte(""),
		[]byte("   "),
		[]byte("not json"),
		[]byte("{broken"),
		[]byte("[{"),
		[]byte("null"),
		[]byte(`"string"`),
		[]byte(`{"code":"abc","data":[]}`),
		[]byte(`{"code":0}`),
		[]byte(`{"code":0,"data":null}`),
		[]byte(`[{"productId":null,"title":null}]`),
		[]byte(`[{"frontCategoryId":1,"groups":[1,null,{"details":"x"}]}]`),
	}

	for _, in := range inputs {
		assert.NotPanics(t, func() {
			for _, result := range ClassifyBody(in) {
				if !result.Recognized() {
					assert.Empty(t, result.Records)
				}
			}
		}, "input %q", in)
	}

	for _, v := range []any{nil, 42, "x", []any{}, map[string]any{}, []any{[]any{}}} {
		assert.Equal(t, models.KindUnrecognized, Classify(v).Kind)
	}
}

func TestUnwrap(t *testing.T) {
	list := []any{map[string]any{"id": 1}}

	data, ok := Unwrap(map[string]any{"code": float64(0), "data": list})
	require.True(t, ok)
	assert.Equal(t, list, data)

	_, ok = Unwrap(map[string]any{"code": float64(1), "data": list})
	assert.False(t, ok)

	data, ok = Unwrap(list)
	require.True(t, ok)
	assert.Equal(t, list, data)

	_, ok = Unwrap(nil)
	assert.False(t, ok)
}
