package hello

import (
	"github.com/danielgtaylor/huma/v2"
)

// Input is the query for GET /hello.
//
// The name parameter is not tagged required: huma treats an empty value as
// missing, while "?name=" must be accepted. Presence is checked in Resolve.
type Input struct {
	Name string `query:"name" doc:"Name to echo back. Must be present; may be empty." example:"world"`
}

// Resolve rejects the request when the name key is absent from the query
// string. A pair that fails to decode, such as "name=%ZZ", is dropped by the
// query parser and counts as absent.
func (i *Input) Resolve(ctx huma.Context) []error {
	u := ctx.URL()
	if !u.Query().Has("name") {
		return []error{&huma.ErrorDetail{
			Message:  "required query parameter is missing or malformed",
			Location: "query.name",
		}}
	}
	return nil
}
