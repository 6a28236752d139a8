package domextract

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	elements    []RawElement
	queryErr    error
	validations map[string]SelectorValidation
	validateErr error
}

func (f *fakeSession) CurrentURL(ctx context.Context) (string, error) { return "https://example.com", nil }

func (f *fakeSession) QueryElements(ctx context.Context, selectors []string, includePosition bool) ([]RawElement, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.elements, nil
}

func (f *fakeSession) ValidateSelector(ctx context.Context, selector string) (SelectorValidation, error) {
	if f.validateErr != nil {
		return SelectorValidation{}, f.validateErr
	}
	return f.validations[selector], nil
}

func (f *fakeSession) Screenshot(ctx context.Context, quality int) ([]byte, error) { return []byte("jpeg"), nil }

func TestExtract_DeduplicatesByTagIDClass(t *testing.T) {
	session := &fakeSession{elements: []RawElement{
		{Tag: "button", ID: "submit", Classes: []string{"btn"}, Text: "Submit"},
		{Tag: "button", ID: "submit", Classes: []string{"btn"}, Text: "Submit"},
		{Tag: "button", ID: "cancel", Classes: []string{"btn"}, Text: "Cancel"},
	}}
	e := New(nil)

	raw := e.Extract(context.Background(), session, DefaultOptions())

	var records []ElementRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &records))
	assert.Len(t, records, 2)
}

func TestExtract_TrimsLongText(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	session := &fakeSession{elements: []RawElement{{Tag: "div", ID: "x", Text: string(long)}}}
	e := New(nil)

	raw := e.Extract(context.Background(), session, DefaultOptions())

	var records []ElementRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &records))
	require.Len(t, records, 1)
	assert.LessOrEqual(t, len(records[0].Text), maxElementTextChars)
}

func TestExtract_CapsAtMaxElements(t *testing.T) {
	var elements []RawElement
	for i := 0; i < 10; i++ {
		elements = append(elements, RawElement{Tag: "a", ID: string(rune('a' + i))})
	}
	session := &fakeSession{elements: elements}
	e := New(nil)

	opts := DefaultOptions()
	opts.MaxElements = 3
	raw := e.Extract(context.Background(), session, opts)

	var records []ElementRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &records))
	assert.Len(t, records, 3)
}

func TestExtract_ReturnsEmptyArrayOnFailure(t *testing.T) {
	session := &fakeSession{queryErr: errors.New("page crashed")}
	e := New(nil)

	raw := e.Extract(context.Background(), session, DefaultOptions())
	assert.Equal(t, "[]", raw)
}

func TestExtract_SortsByPositionWhenRequested(t *testing.T) {
	session := &fakeSession{elements: []RawElement{
		{Tag: "div", ID: "lower", Position: &Position{Top: 500, Left: 0}},
		{Tag: "div", ID: "upper", Position: &Position{Top: 10, Left: 0}},
	}}
	e := New(nil)

	opts := DefaultOptions()
	opts.IncludePosition = true
	raw := e.Extract(context.Background(), session, opts)

	var records []ElementRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "upper", records[0].ID)
}

func TestBestSelector_PicksFirstVisibleExisting(t *testing.T) {
	session := &fakeSession{validations: map[string]SelectorValidation{
		"#missing":    {Exists: false},
		"#hidden":     {Exists: true, IsVisible: false, Count: 1},
		"#good":       {Exists: true, IsVisible: true, IsUnique: true, Count: 1},
	}}
	e := New(nil)

	result := e.BestSelector(context.Background(), session, []string{"#missing", "#hidden", "#good"})
	require.True(t, result.Found)
	assert.Equal(t, "#good", result.Selector)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestBestSelector_NotUniqueLowersConfidence(t *testing.T) {
	session := &fakeSession{validations: map[string]SelectorValidation{
		"div": {Exists: true, IsVisible: true, IsUnique: false, Count: 3},
	}}
	e := New(nil)

	result := e.BestSelector(context.Background(), session, []string{"div"})
	require.True(t, result.Found)
	assert.InDelta(t, 0.8, result.Confidence, 0.001)
}

func TestBestSelector_NoneFoundReturnsNotFound(t *testing.T) {
	session := &fakeSession{validations: map[string]SelectorValidation{}}
	e := New(nil)

	result := e.BestSelector(context.Background(), session, []string{"#a", "#b"})
	assert.False(t, result.Found)
}
