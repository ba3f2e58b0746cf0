// Package sheets upserts product rows into a Google Sheets tab keyed by
// product URL.
package sheets

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
)

// Columns is the header contract, in sheet order (A..AF).
var Columns = []string{
	"TIMESTAMP_UTC",
	"POSITION",
	"SOURCE_PAGE_URL",
	"PAGE_NUM",
	"PRODUCT_URL",
	"PRODUCT_ID",
	"TITLE",
	"PRICE_VALUE",
	"PRICE_CURRENCY",
	"COUNTRY",
	"VOLUME_L",
	"ABV_PERCENT",
	"AGE_YEARS",
	"AVAILABILITY",
	"BRAND",
	"PRODUCER",
	"SKU",
	"TASTING_NOTES",
	"GASTRONOMY",
	"GRAPES_JSON",
	"MATURATION",
	"AWARDS",
	"GIFT_PACKAGING",
	"BREADCRUMBS",
	"IMAGE_ORIGINAL_URL",
	"IMAGE_DIRECT_URL",
	"IMAGE_VIEWER_URL",
	"IMAGE_THUMB_URL",
	"IMAGE_SHA256",
	"IMAGE_CELL",
	"STATUS",
	"ERROR_MSG",
}

// BreadcrumbSeparator joins breadcrumb items in the BREADCRUMBS column.
const BreadcrumbSeparator = " > "

// Values projects a row into cell values in Columns order.
func Values(row catalog.SheetRow) []any {
	p := row.Product
	imageCell := ""
	if row.ImageDirectURL != "" {
		imageCell = `=IMAGE("` + row.ImageDirectURL + `")`
	}
	pageNum := ""
	if p.PageNumber > 0 {
		pageNum = strconv.Itoa(p.PageNumber)
	}
	ageYears := ""
	if p.AgeYears != nil {
		ageYears = strconv.Itoa(*p.AgeYears)
	}
	position := row.Position
	if position == 0 {
		position = p.Position
	}
	return []any{
		formatTimestamp(row.Timestamp),
		strconv.Itoa(position),
		p.SourcePageURL,
		pageNum,
		p.ProductURL,
		p.ProductID,
		p.Title,
		FormatNumber(p.PriceValue),
		p.PriceCurrency,
		p.Country,
		FormatNumber(p.VolumeL),
		FormatNumber(p.ABVPercent),
		ageYears,
		formatBool(p.Availability),
		p.Brand,
		p.Producer,
		p.SKU,
		p.TastingNotes,
		p.Gastronomy,
		GrapesJSON(p.Grapes),
		p.Maturation,
		p.Awards,
		p.GiftPackaging,
		strings.Join(p.Breadcrumbs, BreadcrumbSeparator),
		row.ImageOriginalURL,
		row.ImageDirectURL,
		row.ImageViewerURL,
		row.ImageThumbURL,
		row.ImageHash,
		imageCell,
		string(row.Status),
		row.ErrorMsg,
	}
}

// FormatNumber renders v with at most two decimals and no trailing zeros.
func FormatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	s := strconv.FormatFloat(*v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

// GrapesJSON encodes grapes as a JSON array, keeping non-ASCII text readable.
func GrapesJSON(grapes []string) string {
	if grapes == nil {
		grapes = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(grapes); err != nil {
		return "[]"
	}
	return strings.TrimSpace(buf.String())
}

func formatBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

// columnLetter converts a 1-based column index to its A1 letters.
func columnLetter(n int) string {
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

func columnIndex(name string) int {
	for i, c := range Columns {
		if c == name {
			return i + 1
		}
	}
	return 0
}
