package process

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/waypoint/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoProcess struct{ id string }

func (p *echoProcess) Descriptor() Descriptor {
	return Descriptor{
		ID:       p.id,
		Name:     "Echo",
		Category: CategoryAnalysis,
		InputSchema: InputSchema{
			{Name: "text", Kind: value.KindString, Required: true},
		},
	}
}

func (p *echoProcess) Validate(inputs value.Map) error {
	return p.Descriptor().InputSchema.Validate(inputs)
}

func (p *echoProcess) Execute(_ context.Context, ec *ExecutionContext) (Outcome, error) {
	text, _ := ec.Inputs.String("text")
	return Succeeded(value.Map{"text": value.String(text)}, nil), nil
}

func echoFactory(id string) Factory {
	return func() Process { return &echoProcess{id: id} }
}

type recordingSink struct {
	percents []int
	messages []string
}

func (s *recordingSink) Report(_ context.Context, percent int, message string) {
	s.percents = append(s.percents, percent)
	s.messages = append(s.messages, message)
}

func TestInputSchemaValidate(t *testing.T) {
	schema := InputSchema{
		{Name: "query", Kind: value.KindString, Required: true},
		{Name: "limit", Kind: value.KindNumber},
		{Name: "tags", Kind: value.KindList},
	}

	tests := []struct {
		name    string
		inputs  value.Map
		wantErr []string
	}{
		{
			name:   "valid with optional fields",
			inputs: value.Map{"query": value.String("q"), "limit": value.Number(5)},
		},
		{
			name:   "unknown inputs allowed",
			inputs: value.Map{"query": value.String("q"), "extra": value.Bool(true)},
		},
		{
			name:    "missing required",
			inputs:  value.Map{},
			wantErr: []string{`missing required input "query"`},
		},
		{
			name:    "null counts as missing",
			inputs:  value.Map{"query": value.Null{}},
			wantErr: []string{`missing required input "query"`},
		},
		{
			name:    "all violations reported",
			inputs:  value.Map{"limit": value.String("ten"), "tags": value.Number(1)},
			wantErr: []string{`"query"`, `input "limit" must be number, got string`, `input "tags" must be list, got number`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.inputs)
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidationFailed)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestInputSchemaField(t *testing.T) {
	schema := InputSchema{{Name: "query", Kind: value.KindString}}

	f, ok := schema.Field("query")
	require.True(t, ok)
	assert.Equal(t, value.KindString, f.Kind)

	_, ok = schema.Field("missing")
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoFactory("zeta")))
	require.NoError(t, r.Register(echoFactory("alpha")))

	t.Run("duplicate rejected", func(t *testing.T) {
		err := r.Register(echoFactory("alpha"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("invalid factories rejected", func(t *testing.T) {
		require.Error(t, r.Register(nil))
		require.Error(t, r.Register(func() Process { return nil }))
		require.Error(t, r.Register(echoFactory("")))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := r.New("missing")
		require.ErrorIs(t, err, ErrUnknownProcess)
		assert.False(t, r.Has("missing"))
	})

	t.Run("fresh instance per call", func(t *testing.T) {
		a, err := r.New("alpha")
		require.NoError(t, err)
		b, err := r.New("alpha")
		require.NoError(t, err)
		assert.NotSame(t, a, b)
		assert.True(t, r.Has("alpha"))
	})

	t.Run("list sorted", func(t *testing.T) {
		list := r.List()
		require.Len(t, list, 2)
		assert.Equal(t, "alpha", list[0].ID)
		assert.Equal(t, "zeta", list[1].ID)
	})

	assert.Panics(t, func() { r.MustRegister(echoFactory("zeta")) })
}

func TestExecutionContextReport(t *testing.T) {
	ctx := context.Background()

	var nilCtx *ExecutionContext
	assert.NotPanics(t, func() { nilCtx.Report(ctx, 50, "x") })
	assert.NotPanics(t, func() { (&ExecutionContext{}).Report(ctx, 50, "x") })
	assert.NotNil(t, nilCtx.Log())

	sink := &recordingSink{}
	ec := &ExecutionContext{Progress: sink}
	ec.Report(ctx, -5, "start")
	ec.Report(ctx, 40, "middle")
	ec.Report(ctx, 250, "done")

	assert.Equal(t, []int{0, 40, 100}, sink.percents)
	assert.Equal(t, []string{"start", "middle", "done"}, sink.messages)
}

func TestOutcomeHelpers(t *testing.T) {
	ok := Succeeded(value.Map{"n": value.Number(1)}, nil)
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)

	failed := Failed("boom")
	assert.False(t, failed.Success)
	assert.Equal(t, "boom", failed.Error)
	assert.Nil(t, failed.Output)
}
