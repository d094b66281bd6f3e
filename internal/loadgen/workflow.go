// Package loadgen runs virtual users that drive the product workflow against
// a catalog service.
package loadgen

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/paklog/catalog-loadgen/internal/loadgen/check"
)

// Method is a catalog operation.
type Method int

const (
	MethodCreate Method = iota
	MethodRead
	MethodList
	MethodReplace
	MethodPartialUpdate
	MethodDelete
)

var methodVerbs = map[Method]string{
	MethodCreate:        http.MethodPost,
	MethodRead:          http.MethodGet,
	MethodList:          http.MethodGet,
	MethodReplace:       http.MethodPut,
	MethodPartialUpdate: http.MethodPatch,
	MethodDelete:        http.MethodDelete,
}

// HTTPMethod returns the HTTP verb used for m.
func (m Method) HTTPMethod() string {
	return methodVerbs[m]
}

func (m Method) String() string {
	switch m {
	case MethodCreate:
		return "create"
	case MethodRead:
		return "read"
	case MethodList:
		return "list"
	case MethodReplace:
		return "replace"
	case MethodPartialUpdate:
		return "partial-update"
	case MethodDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// BodyKind selects the request body a step sends.
type BodyKind int

const (
	BodyNone BodyKind = iota

	// BodyProduct is the VU's fixture product.
	BodyProduct

	// BodyUpdatedProduct is the fixture product with the updated title.
	BodyUpdatedProduct

	// BodyPatch is a partial update carrying only the patched title.
	BodyPatch
)

// WorkflowStep is one request of a workflow.
type WorkflowStep struct {
	// Name identifies the step in metrics. It is also the check name.
	Name string

	Method Method

	// PathTemplate is appended to the base URL. {sku} is replaced with the
	// VU's SKU.
	PathTemplate string

	Body   BodyKind
	Expect check.Expectation
}

// Path renders the step's path for a SKU.
func (s WorkflowStep) Path(sku string) string {
	return strings.ReplaceAll(s.PathTemplate, "{sku}", sku)
}

// Workflow is an ordered list of steps executed by every VU iteration.
type Workflow struct {
	Name  string
	Steps []WorkflowStep
}

// WorkflowOptions tunes ProductWorkflow.
type WorkflowOptions struct {
	// Strict adds body assertions on top of the status checks.
	Strict bool
}

// Check names of the product workflow.
const (
	CheckCreated   = "product created"
	CheckRetrieved = "product retrieved"
	CheckListed    = "products listed"
	CheckUpdated   = "product updated"
	CheckPatched   = "product patched"
	CheckDeleted   = "product deleted"
)

// ProductWorkflow returns the create, read, list, replace, patch, delete
// workflow.
func ProductWorkflow(opts WorkflowOptions) *Workflow {
	steps := []WorkflowStep{
		{
			Name:         CheckCreated,
			Method:       MethodCreate,
			PathTemplate: "/products",
			Body:         BodyProduct,
			Expect:       check.Expectation{Name: CheckCreated, Status: http.StatusCreated},
		},
		{
			Name:         CheckRetrieved,
			Method:       MethodRead,
			PathTemplate: "/products/{sku}",
			Expect:       check.Expectation{Name: CheckRetrieved, Status: http.StatusOK},
		},
		{
			Name:         CheckListed,
			Method:       MethodList,
			PathTemplate: "/products",
			Expect:       check.Expectation{Name: CheckListed, Status: http.StatusOK},
		},
		{
			Name:         CheckUpdated,
			Method:       MethodReplace,
			PathTemplate: "/products/{sku}",
			Body:         BodyUpdatedProduct,
			Expect:       check.Expectation{Name: CheckUpdated, Status: http.StatusOK},
		},
		{
			Name:         CheckPatched,
			Method:       MethodPartialUpdate,
			PathTemplate: "/products/{sku}",
			Body:         BodyPatch,
			Expect:       check.Expectation{Name: CheckPatched, Status: http.StatusOK},
		},
		{
			Name:         CheckDeleted,
			Method:       MethodDelete,
			PathTemplate: "/products/{sku}",
			Expect:       check.Expectation{Name: CheckDeleted, Status: http.StatusNoContent},
		},
	}

	if opts.Strict {
		echoSKU := []check.FieldRule{{Path: "sku", Equals: "{sku}"}}
		steps[0].Expect.Fields = echoSKU
		steps[1].Expect.Fields = echoSKU
		steps[1].Expect.Schema = check.ProductSchema()
		steps[2].Expect.Fields = []check.FieldRule{{Path: "content", IsArray: true}}
		steps[3].Expect.Fields = echoSKU
	}

	return &Workflow{Name: "product-crud", Steps: steps}
}

// Validate checks the workflow's structure.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return errors.New("workflow has no steps")
	}

	seen := make(map[string]bool, len(w.Steps))
	for i, step := range w.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if seen[step.Name] {
			return fmt.Errorf("step %d: duplicate name %q", i, step.Name)
		}
		seen[step.Name] = true

		if _, ok := methodVerbs[step.Method]; !ok {
			return fmt.Errorf("step %q: unknown method %d", step.Name, step.Method)
		}
		if !strings.HasPrefix(step.PathTemplate, "/") {
			return fmt.Errorf("step %q: path must start with /", step.Name)
		}
		if step.Expect.Status < 100 || step.Expect.Status > 599 {
			return fmt.Errorf("step %q: invalid expected status %d", step.Name, step.Expect.Status)
		}
		if step.Expect.Name != "" && step.Expect.Name != step.Name {
			return fmt.Errorf("step %q: check name %q does not match step name", step.Name, step.Expect.Name)
		}
	}
	return nil
}

// CheckNames returns the check names in step order.
func (w *Workflow) CheckNames() []string {
	names := make([]string, len(w.Steps))
	for i, step := range w.Steps {
		names[i] = step.Name
	}
	return names
}
