package loadgen

import (
	"net/http"
	"strings"
	"testing"

	"github.com/paklog/catalog-loadgen/internal/loadgen/check"
)

func TestProductWorkflow(t *testing.T) {
	wf := ProductWorkflow(WorkflowOptions{})

	if err := wf.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	want := []struct {
		name   string
		verb   string
		path   string
		status int
		body   BodyKind
	}{
		{CheckCreated, http.MethodPost, "/products", 201, BodyProduct},
		{CheckRetrieved, http.MethodGet, "/products/TEST-SKU-4", 200, BodyNone},
		{CheckListed, http.MethodGet, "/products", 200, BodyNone},
		{CheckUpdated, http.MethodPut, "/products/TEST-SKU-4", 200, BodyUpdatedProduct},
		{CheckPatched, http.MethodPatch, "/products/TEST-SKU-4", 200, BodyPatch},
		{CheckDeleted, http.MethodDelete, "/products/TEST-SKU-4", 204, BodyNone},
	}

	if len(wf.Steps) != len(want) {
		t.Fatalf("len(Steps) = %d, want %d", len(wf.Steps), len(want))
	}
	for i, w := range want {
		step := wf.Steps[i]
		if step.Name != w.name {
			t.Errorf("step %d name = %q, want %q", i, step.Name, w.name)
		}
		if step.Method.HTTPMethod() != w.verb {
			t.Errorf("step %q verb = %s, want %s", step.Name, step.Method.HTTPMethod(), w.verb)
		}
		if got := step.Path("TEST-SKU-4"); got != w.path {
			t.Errorf("step %q path = %s, want %s", step.Name, got, w.path)
		}
		if step.Expect.Status != w.status {
			t.Errorf("step %q status = %d, want %d", step.Name, step.Expect.Status, w.status)
		}
		if step.Body != w.body {
			t.Errorf("step %q body = %v, want %v", step.Name, step.Body, w.body)
		}
		if len(step.Expect.Fields) != 0 || step.Expect.Schema != nil {
			t.Errorf("step %q has body rules without strict mode", step.Name)
		}
	}

	if got := strings.Join(wf.CheckNames(), ","); got != "product created,product retrieved,products listed,product updated,product patched,product deleted" {
		t.Errorf("CheckNames() = %s", got)
	}
}

func TestProductWorkflow_Strict(t *testing.T) {
	wf := ProductWorkflow(WorkflowOptions{Strict: true})

	if err := wf.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if wf.Steps[1].Expect.Schema == nil {
		t.Error("read step has no schema in strict mode")
	}
	if len(wf.Steps[2].Expect.Fields) != 1 || !wf.Steps[2].Expect.Fields[0].IsArray {
		t.Error("list step does not require an array")
	}
	if len(wf.Steps[5].Expect.Fields) != 0 {
		t.Error("delete step must not inspect the empty body")
	}
}

func TestWorkflow_Validate(t *testing.T) {
	valid := func() WorkflowStep {
		return WorkflowStep{
			Name:         "a",
			Method:       MethodRead,
			PathTemplate: "/products",
			Expect:       check.Expectation{Status: 200},
		}
	}

	tests := []struct {
		name  string
		steps func() []WorkflowStep
	}{
		{"empty", func() []WorkflowStep { return nil }},
		{"duplicate names", func() []WorkflowStep { return []WorkflowStep{valid(), valid()} }},
		{"missing name", func() []WorkflowStep { s := valid(); s.Name = ""; return []WorkflowStep{s} }},
		{"unknown method", func() []WorkflowStep { s := valid(); s.Method = Method(42); return []WorkflowStep{s} }},
		{"relative path", func() []WorkflowStep { s := valid(); s.PathTemplate = "products"; return []WorkflowStep{s} }},
		{"bad status", func() []WorkflowStep { s := valid(); s.Expect.Status = 42; return []WorkflowStep{s} }},
		{"check name mismatch", func() []WorkflowStep { s := valid(); s.Expect.Name = "b"; return []WorkflowStep{s} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &Workflow{Name: "test", Steps: tt.steps()}
			if err := wf.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestMethod_String(t *testing.T) {
	if MethodPartialUpdate.String() != "partial-update" {
		t.Errorf("MethodPartialUpdate.String() = %q", MethodPartialUpdate.String())
	}
	if Method(-1).String() != "unknown" {
		t.Errorf("Method(-1).String() = %q", Method(-1).String())
	}
}
