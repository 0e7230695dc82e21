package parser

import (
	"bytes"
	"encoding/json"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxEmbeddedDepth bounds the walk over embedded state trees.
const maxEmbeddedDepth = 6

var stateAssignment = regexp.MustCompile(`window\.__(?:INITIAL_STATE|NUXT|PRELOADED_STATE)__\s*=\s*`)

const jsonScripts = `script#__NEXT_DATA__, script#__NUXT_DATA__, script[type="application/json"]`

// Embedded extracts the state objects server-rendered pages ship inside
// <script> tags and returns every array of objects found in them, outermost
// first. Each array is a candidate payload for Classify.
func Embedded(html []byte) []any {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}

	var roots []any

	doc.Find(jsonScripts).Each(func(_ int, s *goquery.Selection) {
		if v, err := decodeJSON([]byte(strings.TrimSpace(s.Text()))); err == nil {
			roots = append(roots, v)
		}
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		src := s.Text()
		loc := stateAssignment.FindStringIndex(src)
		if loc == nil {
			return
		}

		dec := json.NewDecoder(strings.NewReader(src[loc[1]:]))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			roots = append(roots, v)
		}
	})

	var payloads []any
	for _, root := range roots {
		payloads = collectArrays(root, 0, payloads)
	}
	return payloads
}

// collectArrays walks v and appends every non-empty array whose first
// element is an object. It does not descend into the arrays it collects.
func collectArrays(v any, depth int, out []any) []any {
	if depth > maxEmbeddedDepth {
		return out
	}

	switch t := v.(type) {
	case []any:
		if len(t) > 0 {
			if _, ok := t[0].(map[string]any); ok {
				return append(out, t)
			}
		}
		for _, item := range t {
			out = collectArrays(item, depth+1, out)
		}
	case map[string]any:
		if _, enveloped := t["code"]; enveloped {
			if data, ok := Unwrap(t); ok {
				if _, isList := data.([]any); isList {
					return append(out, data)
				}
			}
		}
		for _, key := range slices.Sorted(maps.Keys(t)) {
			out = collectArrays(t[key], depth+1, out)
		}
	}
	return out
}
