package stmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatement_Classify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		Name     string
		SQL      string
		Kind     Kind
		Expected Kind
	}{
		{"lowercase select with leading whitespace", "  select 1", Unknown, Read},
		{"select followed by newline", "SELECT\n*\nFROM t", Unknown, Read},
		{"update", "update t set x=1", Unknown, ChangeData},
		{"insert", "INSERT INTO t VALUES (1)", Unknown, ChangeData},
		{"keyword needs a word boundary", "selection()", Unknown, ChangeData},
		{"empty text", "", Unknown, Unknown},
		{"only whitespace", " \t\n", Unknown, Unknown},
		{"starts with punctuation", "(SELECT 1)", Unknown, Unknown},
		{"starts with a digit", "1 + 1", Unknown, Unknown},
		{"explicit read wins", "DELETE FROM t", Read, Read},
		{"explicit change data wins", "SELECT 1", ChangeData, ChangeData},
	}

	for _, aTestCase := range testCases {
		t.Run(aTestCase.Name, func(t *testing.T) {
			aStatement := New("test", aTestCase.Kind).SetText(aTestCase.SQL)
			assert.Equal(t, aTestCase.Expected, aStatement.Classify())
			assert.Equal(t, aTestCase.Expected, aStatement.Kind())
		})
	}
}

func TestStatement_ClassifyIsMemoized(t *testing.T) {
	t.Parallel()

	aStatement := New("test", Unknown).SetText("SELECT 1")
	require.Equal(t, Read, aStatement.Classify())

	aStatement.SetText("DELETE FROM t")
	assert.Equal(t, Read, aStatement.Classify())
}

func TestStatement_Bindings(t *testing.T) {
	t.Parallel()

	aStatement := New("users.byID", Read)
	assert.Equal(t, "users.byID", aStatement.Name())

	aStatement.BindInput("id", 1, Int32, 4)
	aStatement.BindInput("id", int64(2), Int64, 8)
	aStatement.BindInput("name", "joe", String, 32)

	in, ok := aStatement.Input("id")
	require.True(t, ok)
	assert.Equal(t, InputBinding{Name: "id", Value: int64(2), Type: Int64, Size: 8}, in)
	assert.Len(t, aStatement.Inputs(), 2)

	_, ok = aStatement.Input("nope")
	assert.False(t, ok)

	aStatement.BindOutput("id", Int64, 8)
	aStatement.BindOutput("name", String, 32)
	aStatement.BindOutput("id", Int64, 8)
	assert.Equal(t, []OutputBinding{
		{Name: "id", Type: Int64, Size: 8},
		{Name: "name", Type: String, Size: 32},
		{Name: "id", Type: Int64, Size: 8},
	}, aStatement.Outputs())

	// Returned collections are copies.
	aStatement.Inputs()["other"] = InputBinding{}
	outputs := aStatement.Outputs()
	outputs[0].Name = "changed"
	assert.Len(t, aStatement.Inputs(), 2)
	assert.Equal(t, "id", aStatement.Outputs()[0].Name)
}

func TestStatement_Inject(t *testing.T) {
	t.Parallel()

	aStatement := New("test", Unknown).SetText("SELECT * FROM [schema].users u JOIN [schema].roles r ON [join]")

	aStatement.Dynamic("schema", "admin")
	assert.Equal(t, "SELECT * FROM admin.users u JOIN admin.roles r ON [join]", aStatement.Text())

	aStatement.Inject("[join]", "u.role_id = r.id")
	assert.Equal(t, "SELECT * FROM admin.users u JOIN admin.roles r ON u.role_id = r.id", aStatement.Text())

	aStatement.Inject("", "boom")
	assert.Equal(t, "SELECT * FROM admin.users u JOIN admin.roles r ON u.role_id = r.id", aStatement.Text())
}

func TestStatement_CloneAndArgs(t *testing.T) {
	t.Parallel()

	aStatement := New("test", Unknown).
		SetText("SELECT :a, :b").
		BindInput("a", 1, Int32, 4).
		BindInput("b", "x", String, 1)

	aClone := aStatement.Clone()
	aClone.BindInput("a", 100, Int32, 4)
	aClone.SetText("changed")

	in, _ := aStatement.Input("a")
	assert.Equal(t, 1, in.Value)
	assert.Equal(t, "SELECT :a, :b", aStatement.Text())

	args, err := aStatement.Args([]string{"b", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", 1, "x"}, args)

	_, err = aStatement.Args([]string{"c"})
	assert.ErrorIs(t, err, ErrUnknownIdentifier)
}

func TestParseTypeTag(t *testing.T) {
	t.Parallel()

	for tag := Untyped; tag <= JSON; tag++ {
		parsed, err := ParseTypeTag(tag.String())
		require.NoError(t, err)
		assert.Equal(t, tag, parsed)
	}

	parsed, err := ParseTypeTag(" Int64 ")
	require.NoError(t, err)
	assert.Equal(t, Int64, parsed)

	parsed, err = ParseTypeTag("")
	require.NoError(t, err)
	assert.Equal(t, Untyped, parsed)

	_, err = ParseTypeTag("varchar2")
	assert.Error(t, err)

	assert.Equal(t, 8, Int64.Width())
	assert.Equal(t, 0, String.Width())
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{Unknown, Read, ChangeData} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	parsed, err := ParseKind("change_data")
	require.NoError(t, err)
	assert.Equal(t, ChangeData, parsed)

	_, err = ParseKind("ddl")
	assert.Error(t, err)
}
