package hello

// Response is the payload for GET /hello.
type Response struct {
	Hello string `json:"hello" doc:"The name from the query string, verbatim" example:"world"`
}

// Output wraps Response as the huma response body.
type Output struct {
	Body Response
}
