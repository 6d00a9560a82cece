package invoice

// Form field keys accepted by SetFormFields.
const (
	FieldVendorName      = "vendor_name"
	FieldVendorAddress   = "vendor_address"
	FieldVendorPhone     = "vendor_phone"
	FieldCustomerName    = "customer_name"
	FieldCustomerAddress = "customer_address"
	FieldCustomerPhone   = "customer_phone"
	FieldInvoiceNumber   = "invoice_number"
	FieldInvoiceDate     = "invoice_date"
	FieldDueDate         = "due_date"
	FieldNotes           = "notes"
	FieldLogoFilename    = "logo_filename"
)

var knownFields = map[string]struct{}{
	FieldVendorName:      {},
	FieldVendorAddress:   {},
	FieldVendorPhone:     {},
	FieldCustomerName:    {},
	FieldCustomerAddress: {},
	FieldCustomerPhone:   {},
	FieldInvoiceNumber:   {},
	FieldInvoiceDate:     {},
	FieldDueDate:         {},
	FieldNotes:           {},
	FieldLogoFilename:    {},
}

// KnownField reports whether key is an accepted form field.
func KnownField(key string) bool {
	_, ok := knownFields[key]
	return ok
}
