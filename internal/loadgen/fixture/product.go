// Package fixture provides the synthetic product data sent by virtual users.
//
// A Template is built once before the first VU starts and is shared read-only
// by every VU. Each iteration derives a Product from it by substituting the VU
// id into the SKU; the nested dimension and attribute data is shared by
// pointer and must never be mutated.
package fixture

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// VUPlaceholder is replaced by the VU id in SKU templates.
const VUPlaceholder = "{{vu}}"

const (
	// DefaultSKUTemplate matches the SKUs used by the original load scripts.
	DefaultSKUTemplate = "TEST-SKU-" + VUPlaceholder

	DefaultTitle  = "Test Product"
	UpdatedTitle  = "Updated Test Product"
	PatchedTitle  = "Patched Test Product"
	defaultLength = 10
	defaultWeight = 10
)

// skuPattern is the catalog's SKU rule. SKUs are upper-cased before matching.
var skuPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-_]{2,49}$`)

// Measurement is a numeric value with a unit tag.
type Measurement struct {
	Value float64 `json:"value" yaml:"value"`
	Unit  string  `json:"unit" yaml:"unit"`
}

// DimensionSet is a complete set of measurements for an object.
type DimensionSet struct {
	Length Measurement `json:"length" yaml:"length"`
	Width  Measurement `json:"width" yaml:"width"`
	Height Measurement `json:"height" yaml:"height"`
	Weight Measurement `json:"weight" yaml:"weight"`
}

// Dimensions holds the item's own measurements and those of its shipping package.
type Dimensions struct {
	Item    DimensionSet `json:"item" yaml:"item"`
	Package DimensionSet `json:"package" yaml:"package"`
}

// HazmatInfo is the hazardous-material classification.
type HazmatInfo struct {
	IsHazmat bool   `json:"is_hazmat" yaml:"isHazmat"`
	UNNumber string `json:"un_number,omitempty" yaml:"unNumber,omitempty"`
}

// Attributes carries compliance data for a product.
type Attributes struct {
	HazmatInfo HazmatInfo `json:"hazmat_info" yaml:"hazmatInfo"`
}

// Product is the JSON body sent on create and replace.
type Product struct {
	SKU        string      `json:"sku"`
	Title      string      `json:"title"`
	Dimensions *Dimensions `json:"dimensions"`
	Attributes *Attributes `json:"attributes"`
}

// WithTitle returns a shallow copy of p with a different title.
func (p Product) WithTitle(title string) Product {
	p.Title = title
	return p
}

// Patch is the JSON body sent on partial update.
type Patch struct {
	Title string `json:"title"`
}

// Template is the immutable source of per-VU products.
type Template struct {
	skuTemplate string
	title       string
	dimensions  *Dimensions
	attributes  *Attributes
}

// NewTemplate creates a template. The dimensions and attributes are copied so
// later changes by the caller cannot leak into running VUs.
func NewTemplate(skuTemplate, title string, dims Dimensions, attrs Attributes) *Template {
	if skuTemplate == "" {
		skuTemplate = DefaultSKUTemplate
	}
	if title == "" {
		title = DefaultTitle
	}
	return &Template{
		skuTemplate: skuTemplate,
		title:       title,
		dimensions:  &dims,
		attributes:  &attrs,
	}
}

// DefaultTemplate returns the 10x10x10 inch, 10 pound, non-hazmat product
// used by the original scripts.
func DefaultTemplate() *Template {
	return NewTemplate(DefaultSKUTemplate, DefaultTitle, DefaultDimensions(), Attributes{})
}

// DefaultDimensions returns the default item and package dimensions.
func DefaultDimensions() Dimensions {
	set := DimensionSet{
		Length: Measurement{Value: defaultLength, Unit: "INCHES"},
		Width:  Measurement{Value: defaultLength, Unit: "INCHES"},
		Height: Measurement{Value: defaultLength, Unit: "INCHES"},
		Weight: Measurement{Value: defaultWeight, Unit: "POUNDS"},
	}
	return Dimensions{Item: set, Package: set}
}

// SKU renders the SKU for a VU.
func (t *Template) SKU(vuID int) string {
	return strings.ReplaceAll(t.skuTemplate, VUPlaceholder, strconv.Itoa(vuID))
}

// Title returns the template title.
func (t *Template) Title() string {
	return t.title
}

// Instance derives the product for one VU iteration.
func (t *Template) Instance(vuID int) Product {
	return Product{
		SKU:        t.SKU(vuID),
		Title:      t.title,
		Dimensions: t.dimensions,
		Attributes: t.attributes,
	}
}

// Validate checks that rendered SKUs and measurements satisfy the catalog's rules.
func (t *Template) Validate() error {
	if !strings.Contains(t.skuTemplate, VUPlaceholder) {
		return fmt.Errorf("sku template %q must contain %s so VUs do not collide", t.skuTemplate, VUPlaceholder)
	}
	// The longest SKU is produced by the largest id; 1e6 VUs is well beyond any profile.
	for _, id := range []int{1, 999999} {
		sku := t.SKU(id)
		if !skuPattern.MatchString(strings.ToUpper(sku)) {
			return fmt.Errorf("sku %q does not match %s", sku, skuPattern.String())
		}
	}
	if strings.TrimSpace(t.title) == "" {
		return fmt.Errorf("title cannot be empty")
	}

	sets := map[string]DimensionSet{
		"item":    t.dimensions.Item,
		"package": t.dimensions.Package,
	}
	for name, set := range sets {
		if err := validateSet(name, set); err != nil {
			return err
		}
	}
	return nil
}

var (
	lengthUnits = map[string]bool{"INCHES": true, "CENTIMETERS": true, "MILLIMETERS": true, "FEET": true, "METERS": true}
	weightUnits = map[string]bool{"POUNDS": true, "KILOGRAMS": true, "GRAMS": true, "OUNCES": true}
)

func validateSet(name string, set DimensionSet) error {
	lengths := map[string]Measurement{"length": set.Length, "width": set.Width, "height": set.Height}
	for field, m := range lengths {
		if m.Value <= 0 {
			return fmt.Errorf("%s.%s must be positive, got %v", name, field, m.Value)
		}
		if !lengthUnits[m.Unit] {
			return fmt.Errorf("%s.%s has unknown unit %q", name, field, m.Unit)
		}
	}
	if set.Weight.Value <= 0 {
		return fmt.Errorf("%s.weight must be positive, got %v", name, set.Weight.Value)
	}
	if !weightUnits[set.Weight.Unit] {
		return fmt.Errorf("%s.weight has unknown unit %q", name, set.Weight.Unit)
	}
	return nil
}
