package admin

import (
	"fmt"
	"net/http"

	"github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
)

type keyPath struct {
	Key string `path:"key" description:"Lock key without the manager prefix."`
}

type route struct {
	method      string
	path        string
	id          string
	summary     string
	description string
	responses   map[int]any
}

var routes = []route{
	{
		method:  http.MethodGet,
		path:    "/locks/{key}",
		id:      "getLockStatus",
		summary: "Report whether a key is locked",
		responses: map[int]any{
			http.StatusOK:                  new(Status),
			http.StatusInternalServerError: new(errorResponse),
		},
	},
	{
		method:      http.MethodDelete,
		path:        "/locks/{key}",
		id:          "forceReleaseLock",
		summary:     "Force release a key",
		description: "Deletes the lock record without checking the owner. A holder still inside its critical section loses mutual exclusion.",
		responses: map[int]any{
			http.StatusNoContent:           nil,
			http.StatusInternalServerError: new(errorResponse),
		},
	},
}

// Spec builds the OpenAPI 3 document describing the admin routes.
func Spec() (*openapi3.Spec, error) {
	reflector := openapi3.NewReflector()
	reflector.SpecEns().Info.
		WithTitle("lockmgr admin").
		WithVersion("1.0.0")

	for _, rt := range routes {
		op, err := reflector.NewOperationContext(rt.method, rt.path)
		if err != nil {
			return nil, fmt.Errorf("failed to map OperationContext: %w", err)
		}

		op.SetID(rt.id)
		op.SetSummary(rt.summary)
		op.SetDescription(rt.description)
		op.SetTags("locks")
		op.AddReqStructure(new(keyPath))

		for status, object := range rt.responses {
			op.AddRespStructure(object, openapi.WithHTTPStatus(status))
		}

		if err := reflector.AddOperation(op); err != nil {
			return nil, fmt.Errorf("add operation %s: %w", rt.id, err)
		}
	}

	return reflector.Spec, nil
}
