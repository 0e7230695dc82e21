package parser

import (
	"github.com/maltedev/recycle-crawler/internal/models"
)

var priceKeys = []string{"maxPrice", "minPrice", "price"}

func hasPrice(m map[string]any) bool {
	for _, key := range priceKeys {
		if has(m, key) {
			return true
		}
	}
	return false
}

func isSPUListing(m map[string]any) bool {
	return has(m, "productId") && (has(m, "productName") || has(m, "title")) && !hasPrice(m)
}

func isBrand(m map[string]any) bool {
	return has(m, "iconUrl") && has(m, "name") && !hasPrice(m)
}

func isCategoryGroup(m map[string]any) bool {
	if !has(m, "frontCategoryId") {
		return false
	}
	_, ok := m["groups"].([]any)
	return ok
}

func isCollection(m map[string]any) bool {
	return has(m, "collectionId")
}

func buildSPUProduct(m map[string]any) []models.Record {
	p := models.Product{
		Name:       stringField(m, "productName", "title"),
		BrandID:    intField(m, "brandId"),
		BrandName:  stringField(m, "brandName"),
		SubTitle:   stringField(m, "subTitle"),
		ImageURL:   stringField(m, "imageUrl"),
		CategoryID: stringField(m, "categoryId"),
	}
	p.ID, p.RawID = idField(m, "productId")
	if serials := objectField(m, "serials"); serials != nil {
		p.SeriesName = stringField(serials, "name")
		p.SeriesCode = stringField(serials, "code")
	}
	return []models.Record{p}
}

func buildPricedProduct(m map[string]any) []models.Record {
	p := models.Product{
		Name:       stringField(m, "name", "productName", "title"),
		BrandID:    intField(m, "brandId"),
		BrandName:  stringField(m, "brandName"),
		SubTitle:   stringField(m, "subTitle"),
		ImageURL:   stringField(m, "imageUrl"),
		CategoryID: stringField(m, "categoryId"),
	}
	p.ID, p.RawID = idField(m, "id", "productId")
	if price, ok := floatField(m, priceKeys...); ok {
		p.MaxPrice = &price
	}
	return []models.Record{p}
}

func buildBrand(m map[string]any) []models.Record {
	b := models.Brand{
		Name:    stringField(m, "name"),
		IconURL: stringField(m, "iconUrl"),
	}
	b.ID, b.RawID = idField(m, "id")
	return []models.Record{b}
}

// buildCategoryGroups yields one record per group; brands come from the
// group's details list.
func buildCategoryGroups(m map[string]any) []models.Record {
	frontID := stringField(m, "frontCategoryId")
	groups, _ := m["groups"].([]any)

	records := make([]models.Record, 0, len(groups))
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}

		cg := models.CategoryGroup{
			FrontCategoryID: frontID,
			GroupName:       stringField(group, "groupName"),
			Brands:          []models.Brand{},
		}
		details, _ := group["details"].([]any)
		for _, d := range details {
			detail, ok := d.(map[string]any)
			if !ok {
				continue
			}
			b := models.Brand{
				Name:    stringField(detail, "name"),
				IconURL: stringField(detail, "iconUrl"),
			}
			b.ID, b.RawID = idField(detail, "id")
			cg.Brands = append(cg.Brands, b)
		}
		records = append(records, cg)
	}
	return records
}

func buildCollection(m map[string]any) []models.Record {
	c := models.Collection{
		Title:      stringField(m, "title", "name"),
		SeriesCode: stringField(m, "seriesCode", "code"),
		BrandID:    intField(m, "brandId"),
	}
	c.ID, c.RawID = idField(m, "collectionId")
	return []models.Record{c}
}
