package fixture

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestTemplate_Instance(t *testing.T) {
	tmpl := DefaultTemplate()

	p1 := tmpl.Instance(1)
	p2 := tmpl.Instance(42)

	assert.Equal(t, "TEST-SKU-1", p1.SKU)
	assert.Equal(t, "TEST-SKU-42", p2.SKU)
	assert.Equal(t, DefaultTitle, p1.Title)

	// Nested data is shared, not copied per VU.
	assert.Same(t, p1.Dimensions, p2.Dimensions)
	assert.Same(t, p1.Attributes, p2.Attributes)
}

func TestProduct_WithTitleDoesNotMutate(t *testing.T) {
	tmpl := DefaultTemplate()
	p := tmpl.Instance(7)

	updated := p.WithTitle(UpdatedTitle)

	assert.Equal(t, UpdatedTitle, updated.Title)
	assert.Equal(t, DefaultTitle, p.Title)
	assert.Equal(t, DefaultTitle, tmpl.Instance(7).Title)
	assert.Same(t, p.Dimensions, updated.Dimensions)
}

func TestNewTemplate_CopiesInputs(t *testing.T) {
	dims := DefaultDimensions()
	tmpl := NewTemplate("", "", dims, Attributes{})

	dims.Item.Length.Value = 999

	assert.Equal(t, float64(10), tmpl.Instance(1).Dimensions.Item.Length.Value)
	assert.Equal(t, DefaultTitle, tmpl.Title())
	assert.Equal(t, "TEST-SKU-3", tmpl.SKU(3))
}

func TestProduct_JSONShape(t *testing.T) {
	body, err := json.Marshal(DefaultTemplate().Instance(5))
	require.NoError(t, err)

	doc := string(body)
	assert.Equal(t, "TEST-SKU-5", gjson.Get(doc, "sku").String())
	assert.Equal(t, "Test Product", gjson.Get(doc, "title").String())
	assert.Equal(t, float64(10), gjson.Get(doc, "dimensions.item.length.value").Float())
	assert.Equal(t, "INCHES", gjson.Get(doc, "dimensions.package.height.unit").String())
	assert.Equal(t, "POUNDS", gjson.Get(doc, "dimensions.package.weight.unit").String())
	assert.True(t, gjson.Get(doc, "attributes.hazmat_info.is_hazmat").Exists())
	assert.False(t, gjson.Get(doc, "attributes.hazmat_info.un_number").Exists())
}

func TestTemplate_Validate(t *testing.T) {
	badUnit := DefaultDimensions()
	badUnit.Item.Width.Unit = "PARSECS"

	negative := DefaultDimensions()
	negative.Package.Weight.Value = -1

	badWeightUnit := DefaultDimensions()
	badWeightUnit.Item.Weight.Unit = "INCHES"

	tests := []struct {
		name    string
		tmpl    *Template
		wantErr bool
	}{
		{name: "default", tmpl: DefaultTemplate()},
		{name: "custom prefix", tmpl: NewTemplate("LOAD_{{vu}}", "x", DefaultDimensions(), Attributes{})},
		{name: "lowercase sku accepted", tmpl: NewTemplate("sku-{{vu}}", "x", DefaultDimensions(), Attributes{})},
		{name: "missing placeholder", tmpl: NewTemplate("FIXED-SKU", "x", DefaultDimensions(), Attributes{}), wantErr: true},
		{name: "leading dash", tmpl: NewTemplate("-{{vu}}", "x", DefaultDimensions(), Attributes{}), wantErr: true},
		{name: "too short", tmpl: NewTemplate("{{vu}}", "x", DefaultDimensions(), Attributes{}), wantErr: true},
		{name: "invalid char", tmpl: NewTemplate("SKU#{{vu}}", "x", DefaultDimensions(), Attributes{}), wantErr: true},
		{name: "unknown length unit", tmpl: NewTemplate("", "", badUnit, Attributes{}), wantErr: true},
		{name: "negative weight", tmpl: NewTemplate("", "", negative, Attributes{}), wantErr: true},
		{name: "weight in inches", tmpl: NewTemplate("", "", badWeightUnit, Attributes{}), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tmpl.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
