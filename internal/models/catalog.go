package models

import (
	"strconv"
)

// Kind identifies the structural shape a response payload was classified as.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindBrand
	KindProduct
	KindCategoryGroup
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindBrand:
		return "brand"
	case KindProduct:
		return "product"
	case KindCategoryGroup:
		return "category_group"
	case KindCollection:
		return "collection"
	default:
		return "unrecognized"
	}
}

// Kinds lists every record kind the collector keeps a sequence for.
var Kinds = []Kind{KindBrand, KindProduct, KindCategoryGroup, KindCollection}

// Record is a normalized catalog entry. Key is the identity used for
// duplicate suppression within one crawl.
type Record interface {
	Kind() Kind
	Key() string
}

// idKey renders a record identity. RawID is only set when the payload
// carried an identifier that is not an integer.
func idKey(id int64, raw string) string {
	if id == 0 && raw != "" {
		return raw
	}
	return strconv.FormatInt(id, 10)
}

type Brand struct {
	ID      int64  `json:"id"`
	RawID   string `json:"rawId,omitempty"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl,omitempty"`
}

func (Brand) Kind() Kind { return KindBrand }
func (b Brand) Key() string { return idKey(b.ID, b.RawID) }

type Product struct {
	ID              int64    `json:"id"`
	RawID           string   `json:"rawId,omitempty"`
	Name            string   `json:"name"`
	BrandID         int64    `json:"brandId,omitempty"`
	BrandName       string   `json:"brandName"`
	SeriesName      string   `json:"seriesName,omitempty"`
	SeriesCode      string   `json:"seriesCode,omitempty"`
	CollectionID    int64    `json:"collectionId,omitempty"`
	CollectionTitle string   `json:"collectionTitle"`
	SubTitle        string   `json:"subTitle,omitempty"`
	ImageURL        string   `json:"imageUrl,omitempty"`
	CategoryID      string   `json:"categoryId,omitempty"`
	MaxPrice        *float64 `json:"maxPrice,omitempty"`
}

func (Product) Kind() Kind { return KindProduct }
func (p Product) Key() string { return idKey(p.ID, p.RawID) }

// InCollection reports whether the product was recorded on the collection path.
func (p Product) InCollection() bool {
	return p.CollectionID != 0 || p.CollectionTitle != ""
}

type Collection struct {
	ID         int64  `json:"id"`
	RawID      string `json:"rawId,omitempty"`
	Title      string `json:"title"`
	SeriesCode string `json:"seriesCode,omitempty"`
	BrandID    int64  `json:"brandId"`
}

func (Collection) Kind() Kind { return KindCollection }
func (c Collection) Key() string { return idKey(c.ID, c.RawID) }

// CategoryGroup is a named bucket of brands ("Hot Brands") under a front category.
type CategoryGroup struct {
	FrontCategoryID string  `json:"frontCategoryId"`
	GroupName       string  `json:"groupName"`
	Brands          []Brand `json:"brands"`
}

func (CategoryGroup) Kind() Kind { return KindCategoryGroup }
func (g CategoryGroup) Key() string {
	return g.FrontCategoryID + "/" + g.GroupName
}

// CategoryInfo is observed in responses that carry both category identifiers.
// It is not a record; the driver uses it to resolve its category parameters.
type CategoryInfo struct {
	CategoryID      string `json:"categoryId"`
	FrontCategoryID string `json:"frontCategoryId"`
	BizType         string `json:"bizType,omitempty"`
}

func (c CategoryInfo) Complete() bool {
	return c.CategoryID != "" && c.FrontCategoryID != ""
}
