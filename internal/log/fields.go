package log

// Field names shared by every component so log queries stay stable.
const (
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldEndpoint  = "endpoint"
	FieldMethod    = "method"
	FieldStatus    = "status"
	FieldURL       = "url"
	FieldPageID    = "page_id"
	FieldNamespace = "namespace"
	FieldShape     = "shape"
	FieldVideoID   = "video_id"
	FieldAssetType = "asset_type"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldLocale    = "locale"
	FieldOperator  = "operator"
)
