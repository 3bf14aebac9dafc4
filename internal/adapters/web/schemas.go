package web

import (
	"net/http"
	"reflect"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
)

// formDocuments maps the {document} path segment to the request body it describes.
var formDocuments = map[string]any{
	"product":          productRequest{},
	"customer":         customerRequest{},
	"supplier":         supplierRequest{},
	"sales-invoice":    salesInvoiceRequest{},
	"purchase-invoice": purchaseInvoiceRequest{},
	"sales-return":     salesReturnRequest{},
	"receipt":          receiptRequest{},
	"payment":          paymentRequest{},
	"expense":          expenseRequest{},
	"cash-entry":       cashEntryRequest{},
	"tax-rate":         taxRateRequest{},
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalSchema describes money and quantity fields, which accept a JSON
// number or a numeric string.
func decimalSchema(t reflect.Type) *jsonschema.Schema {
	if t != decimalType && t != reflect.PointerTo(decimalType) {
		return nil
	}
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "number"},
			{Type: "string", Pattern: `^-?[0-9]+(\.[0-9]+)?$`},
		},
	}
}

func formSchema(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper:                    decimalSchema,
	}
	return reflector.Reflect(v)
}

// schema handles GET /api/schemas/{document} and returns the JSON Schema of
// that document's request body for client-side form generation.
func (h *Handler) schema(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "document")
	v, ok := formDocuments[name]
	if !ok {
		writeError(w, r, "unknown document: "+name, "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, formSchema(v))
}
