package hello

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	applog "github.com/janisto/hello-api/internal/platform/logging"
)

// Register wires the hello route into the provided API.
func Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-hello",
		Method:      http.MethodGet,
		Path:        "/hello",
		Summary:     "Echo a name",
		Description: "Returns the name query parameter as the hello field.",
		Tags:        []string{"Hello"},
	}, getHandler)
}

func getHandler(ctx context.Context, input *Input) (*Output, error) {
	applog.LogInfo(ctx, "hello get", zap.Int("name_length", len(input.Name)))
	return &Output{Body: Response{Hello: input.Name}}, nil
}
