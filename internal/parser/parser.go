package parser

import (
	"bytes"
	"encoding/json"

	"github.com/maltedev/recycle-crawler/internal/models"
)

// Result is the outcome of classifying one payload. Records all share Kind.
// Category is set whenever the first element carried both category
// identifiers, regardless of Kind.
type Result struct {
	Kind     models.Kind
	Records  []models.Record
	Category *models.CategoryInfo
}

func (r Result) Recognized() bool {
	return r.Kind != models.KindUnrecognized
}

type signature struct {
	kind  models.Kind
	match func(map[string]any) bool
	build func(map[string]any) []models.Record
}

// Checked in order, most specific first. SPU rows can carry an iconUrl and
// would otherwise be taken for brands.
var signatures = []signature{
	{models.KindProduct, isSPUListing, buildSPUProduct},
	{models.KindProduct, hasPrice, buildPricedProduct},
	{models.KindBrand, isBrand, buildBrand},
	{models.KindCategoryGroup, isCategoryGroup, buildCategoryGroups},
	{models.KindCollection, isCollection, buildCollection},
}

// Classify maps one decoded JSON value to a record kind and its normalized
// records. It never fails: anything it cannot make sense of is Unrecognized.
func Classify(v any) Result {
	unrecognized := Result{Kind: models.KindUnrecognized}

	payload, ok := Unwrap(v)
	if !ok {
		return unrecognized
	}

	items, ok := payload.([]any)
	if !ok || len(items) == 0 {
		return unrecognized
	}

	first, ok := items[0].(map[string]any)
	if !ok {
		return unrecognized
	}

	result := Result{
		Kind:     models.KindUnrecognized,
		Category: categoryInfo(first),
	}

	var sig *signature
	for i := range signatures {
		if signatures[i].match(first) {
			sig = &signatures[i]
			break
		}
	}
	if sig == nil {
		return result
	}

	result.Kind = sig.kind
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		result.Records = append(result.Records, sig.build(obj)...)
	}

	return result
}

// ClassifyBody decodes a raw response body and classifies every payload found
// in it. JSON bodies yield one result; HTML documents yield one result per
// embedded state array.
func ClassifyBody(body []byte) []Result {
	payloads := Decode(body)
	results := make([]Result, 0, len(payloads))
	for _, p := range payloads {
		results = append(results, Classify(p))
	}
	return results
}

// Decode turns a response body into candidate payloads. Malformed input
// yields nothing.
func Decode(body []byte) []any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	switch trimmed[0] {
	case '{', '[':
		v, err := decodeJSON(trimmed)
		if err != nil {
			return nil
		}
		return []any{v}
	case '<':
		return Embedded(trimmed)
	default:
		return nil
	}
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Unwrap strips the {"code": 0, "data": ...} envelope the gateway puts around
// every payload. A non-zero code means the payload must be ignored. Inner
// objects that only wrap a brand or product list are unwrapped to the list.
func Unwrap(v any) (any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return v, v != nil
	}

	if _, enveloped := obj["code"]; !enveloped {
		return obj, true
	}

	code, ok := intValue(obj["code"])
	if !ok || code != 0 {
		return nil, false
	}

	data := obj["data"]
	if inner, ok := data.(map[string]any); ok {
		for _, key := range listKeys {
			if list, ok := inner[key].([]any); ok {
				return list, true
			}
		}
	}

	return data, data != nil
}

var listKeys = []string{"brands", "products"}

func categoryInfo(m map[string]any) *models.CategoryInfo {
	if !has(m, "frontCategoryId") || !has(m, "categoryId") {
		return nil
	}

	info := &models.CategoryInfo{
		CategoryID:      stringField(m, "categoryId"),
		FrontCategoryID: stringField(m, "frontCategoryId"),
		BizType:         stringField(m, "bizType"),
	}
	if !info.Complete() {
		return nil
	}
	return info
}
