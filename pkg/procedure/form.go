package procedure

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// SubmitFunc consumes the collected form values once they validate.
type SubmitFunc func(ctx context.Context, values map[string]any) (any, error)

// Form is a data-collection procedure: the reasoning layer gathers
// values matching the input schema across one or more turns, then the
// host validates them and hands them to Submit.
type Form struct {
	Meta
	Submit SubmitFunc
}

// NewForm builds a form whose values are validated against the given
// input schema before submission.
func NewForm(name, description string, inputSchema map[string]any, submit SubmitFunc) *Form {
	return &Form{
		Meta: Meta{
			ProcName: NormalizeName(name),
			ProcDesc: description,
			Input:    inputSchema,
		},
		Submit: submit,
	}
}

// WithExamples attaches retrieval examples.
func (f *Form) WithExamples(examples ...string) *Form {
	f.ProcExamples = examples
	return f
}

func (f *Form) Kind() Kind { return KindForm }

// Invoke validates args against the form's input schema, then submits.
func (f *Form) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if f.Submit == nil {
		return nil, fmt.Errorf("form %s has no submit function bound", f.ProcName)
	}

	if len(f.Input) > 0 {
		result, err := gojsonschema.Validate(
			gojsonschema.NewGoLoader(f.Input),
			gojsonschema.NewGoLoader(args),
		)
		if err != nil {
			return nil, fmt.Errorf("validating form %s values: %w", f.ProcName, err)
		}
		if !result.Valid() {
			var msgs []string
			for _, desc := range result.Errors() {
				msgs = append(msgs, desc.String())
			}
			return nil, fmt.Errorf("form %s values invalid: %s", f.ProcName, strings.Join(msgs, "; "))
		}
	}

	return f.Submit(ctx, args)
}

func (f *Form) Documents() []Document {
	return f.documents(KindForm, nil)
}
