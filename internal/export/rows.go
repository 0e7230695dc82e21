package export

import (
	"fmt"
	"strconv"

	"github.com/maltedev/recycle-crawler/internal/models"
)

// Table is a header plus string rows, the shape every writer consumes.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

func (t Table) Len() int {
	return len(t.Rows)
}

var ProductColumns = []string{"brand", "series", "collection", "productName", "subTitle", "productId", "imageUrl"}

// ProductRows flattens products into export rows. The collection column is
// always present and empty for products reached without a collection. A
// maxPrice column is added when any product carries a price.
func ProductRows(products []models.Product) Table {
	priced := false
	for _, p := range products {
		if p.MaxPrice != nil {
			priced = true
			break
		}
	}

	header := append([]string(nil), ProductColumns...)
	if priced {
		header = append(header, "maxPrice")
	}

	t := Table{Name: "products", Header: header, Rows: make([][]string, 0, len(products))}
	for _, p := range products {
		row := []string{
			p.BrandName,
			p.SeriesName,
			collectionLabel(p),
			p.Name,
			p.SubTitle,
			p.Key(),
			p.ImageURL,
		}
		if priced {
			row = append(row, formatPrice(p.MaxPrice))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func collectionLabel(p models.Product) string {
	if p.CollectionTitle != "" {
		return p.CollectionTitle
	}
	if p.CollectionID != 0 {
		return strconv.FormatInt(p.CollectionID, 10)
	}
	return ""
}

func formatPrice(price *float64) string {
	if price == nil {
		return ""
	}
	return strconv.FormatFloat(*price, 'f', -1, 64)
}

func BrandRows(brands []models.Brand) Table {
	t := Table{Name: "brands", Header: []string{"brandId", "brandName", "iconUrl"}}
	for _, b := range brands {
		t.Rows = append(t.Rows, []string{b.Key(), b.Name, b.IconURL})
	}
	return t
}

// GroupRows emits one row per brand of every group.
func GroupRows(groups []models.CategoryGroup) Table {
	t := Table{Name: "groups", Header: []string{"frontCategoryId", "groupName", "brandId", "brandName"}}
	for _, g := range groups {
		for _, b := range g.Brands {
			t.Rows = append(t.Rows, []string{g.FrontCategoryID, g.GroupName, b.Key(), b.Name})
		}
	}
	return t
}

func CollectionRows(collections []models.Collection) Table {
	t := Table{Name: "collections", Header: []string{"collectionId", "title", "seriesCode", "brandId"}}
	for _, c := range collections {
		t.Rows = append(t.Rows, []string{
			c.Key(),
			c.Title,
			c.SeriesCode,
			strconv.FormatInt(c.BrandID, 10),
		})
	}
	return t
}

// RecordRows builds the table for a classified record set of one kind.
func RecordRows(kind models.Kind, records []models.Record) (Table, error) {
	switch kind {
	case models.KindProduct:
		return ProductRows(as[models.Product](records)), nil
	case models.KindBrand:
		return BrandRows(as[models.Brand](records)), nil
	case models.KindCategoryGroup:
		return GroupRows(as[models.CategoryGroup](records)), nil
	case models.KindCollection:
		return CollectionRows(as[models.Collection](records)), nil
	default:
		return Table{}, fmt.Errorf("no table layout for %s records", kind)
	}
}

func as[T models.Record](records []models.Record) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
