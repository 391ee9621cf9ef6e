package lessweb

// Test-only exports for internal functions.
var (
	TagOptions    = tagOptions
	TagContains   = tagContains
	JSONFieldName = jsonFieldName
	FieldRequired = fieldRequired

	TypeToSchema        = typeToSchema
	StructToSchema      = structToSchema
	ApplyConstraintTags = applyConstraintTags
	ShapeSchema         = shapeSchema

	PathParamNames = pathParamNames
	ProblemFor     = problemFor
)

// Negotiate runs Accept negotiation against the default encoders and
// returns the chosen content type.
func Negotiate(accept string) (string, bool) {
	enc, ok := newCodecRegistry(jsonCodec{}, nil).negotiate(accept)
	if !ok {
		return "", false
	}
	return enc.ContentType(), true
}
