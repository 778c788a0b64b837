package scan

// Record is a product description resolved from the record store.
// Records are created once per code and never mutated.
type Record struct {
	Code                  string `json:"code"`
	Price                 string `json:"price"`
	Description           string `json:"description"`
	NutritionSummary      string `json:"nutrition_summary"`
	EnergyValue           string `json:"energy_value"`
	RequiresSecondaryCode bool   `json:"requires_secondary_code"`
	SecondaryCode         string `json:"secondary_code,omitempty"`
}

// FieldMap is an untyped document returned by a record store
type FieldMap map[string]any

// DefaultCollection is the store collection holding product documents
const DefaultCollection = "Scans"

// Document field names used by the product collection
const (
	FieldID          = "id"
	FieldPrice       = "price"
	FieldInformation = "information"
	FieldNutrition   = "cbzh"
	FieldEnergy      = "energyprice"
	FieldExtraQR     = "extraqr"
	FieldExtraQRCode = "extraqrcode"
)

// RecordFromFields builds a Record from a store document. Missing fields and
// fields of the wrong type fall back to "" or false.
func RecordFromFields(fields FieldMap) Record {
	return Record{
		Code:                  stringField(fields, FieldID),
		Price:                 stringField(fields, FieldPrice),
		Description:           stringField(fields, FieldInformation),
		NutritionSummary:      stringField(fields, FieldNutrition),
		EnergyValue:           stringField(fields, FieldEnergy),
		RequiresSecondaryCode: boolField(fields, FieldExtraQR),
		SecondaryCode:         stringField(fields, FieldExtraQRCode),
	}
}

// Fields is the inverse of RecordFromFields
func (r Record) Fields() FieldMap {
	return FieldMap{
		FieldID:          r.Code,
		FieldPrice:       r.Price,
		FieldInformation: r.Description,
		FieldNutrition:   r.NutritionSummary,
		FieldEnergy:      r.EnergyValue,
		FieldExtraQR:     r.RequiresSecondaryCode,
		FieldExtraQRCode: r.SecondaryCode,
	}
}

func stringField(fields FieldMap, key string) string {
	s, _ := fields[key].(string)
	return s
}

func boolField(fields FieldMap, key string) bool {
	b, _ := fields[key].(bool)
	return b
}
