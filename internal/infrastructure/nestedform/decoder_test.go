package nestedform

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_LeadsAddList(t *testing.T) {
	tree := Decode("leads[add][0][id]=123&leads[add][1][id]=456")

	add, ok := Lookup(tree, "leads", "add")
	require.True(t, ok)
	list, ok := add.([]any)
	require.True(t, ok)
	require.Len(t, list, 2)

	id0, _ := Lookup(tree, "leads", "add", "0", "id")
	id1, _ := Lookup(tree, "leads", "add", "1", "id")
	assert.Equal(t, "123", id0)
	assert.Equal(t, "456", id1)
}

func TestDecode_OutOfOrderIndices(t *testing.T) {
	tree := Decode("leads[add][1][id]=456&leads[add][0][id]=123")

	items := Items(tree["leads"].(map[string]any)["add"])
	require.Len(t, items, 2)
	assert.Equal(t, "123", items[0].(map[string]any)["id"])
	assert.Equal(t, "456", items[1].(map[string]any)["id"])
}

func TestDecode_OutOfOrderScalarIndices(t *testing.T) {
	tree := Decode("a[1]=x&a[0]=y")

	assert.Equal(t, []any{"y", "x"}, tree["a"])
	assert.NotContains(t, tree, "a[0]")
}

func TestDecode_PlaceholderMaps(t *testing.T) {
	tree := Decode("items[3][sku]=X")

	items := tree["items"].([]any)
	require.Len(t, items, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, map[string]any{}, items[i])
	}
	assert.Equal(t, map[string]any{"sku": "X"}, items[3])
}

func TestDecode_PercentDecoding(t *testing.T) {
	tree := Decode("contact[name]=%D0%98%D0%B2%D0%B0%D0%BD+%D0%9F%D0%B5%D1%82%D1%80%D0%BE%D0%B2&note=a%26b%3Dc")

	name, _ := Lookup(tree, "contact", "name")
	assert.Equal(t, "Иван Петров", name)
	assert.Equal(t, "a&b=c", tree["note"])
}

func TestDecode_AppendSegments(t *testing.T) {
	tree := Decode("tags[]=a&tags[]=b")
	assert.Equal(t, []any{"a", "b"}, tree["tags"])
}

func TestDecode_MalformedKeysFallBackToFlat(t *testing.T) {
	tests := []struct {
		name string
		body string
		key  string
		want string
	}{
		{"unclosed bracket", "leads[add=1", "leads[add", "1"},
		{"leading bracket", "[0]=x", "[0]", "x"},
		{"text between segments", "a[b]c[d]=v", "a[b]c[d]", "v"},
		{"nested open bracket", "a[b[c]]=v", "a[b[c]]", "v"},
		{"index too large", "a[999999999]=v", "a[999999999]", "v"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := Decode(tt.body)
			assert.Equal(t, tt.want, tree[tt.key])
		})
	}
}

func TestDecode_ShapeConflicts(t *testing.T) {
	tree := Decode("a=1&a[b]=2")
	assert.Equal(t, "1", tree["a"])
	assert.Equal(t, "2", tree["a[b]"])

	tree = Decode("a[b]=2&a=1")
	assert.Equal(t, map[string]any{"b": "2"}, tree["a"])

	tree = Decode("a[0]=x&a[k]=y")
	assert.Equal(t, []any{"x"}, tree["a"])
	assert.Equal(t, "y", tree["a[k]"])
}

func TestDecode_NeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"&&&",
		"=",
		"==",
		"%",
		"%zz=%zz",
		"a[",
		"a]",
		"a[]]=1",
		"[]=",
		"a[0][0][0][0]=1&a[0]=2",
		"a[-1]=1",
		strings.Repeat("a[0]", 200) + "=deep",
		"x[ÿ]=ÿ",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { Decode(in) }, in)
	}
}

func TestDecode_Deterministic(t *testing.T) {
	body := "leads[status][1][id]=2&leads[status][0][id]=1&account[id]=9&x=y"
	first, err := json.Marshal(Decode(body))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(Decode(body))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestDecode_Golden(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "crm_status_change",
			body: "leads[status][0][id]=25399013&leads[status][0][status_id]=142&leads[status][0][pipeline_id]=3104455" +
				"&leads[status][0][old_status_id]=1&leads[status][1][id]=25399014&leads[status][1][status_id]=143" +
				"&account[id]=29085955&account[subdomain]=shop",
		},
		{
			name: "out_of_order_add",
			body: "leads[add][2][name]=Order%20%233&leads[add][0][id]=1&leads[add][0][name]=%D0%97%D0%B0%D0%BA%D0%B0%D0%B7&leads[add][2][id]=3",
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := json.MarshalIndent(Decode(tt.body), "", "  ")
			require.NoError(t, err)
			g.Assert(t, tt.name, append(out, '\n'))
		})
	}
}

func TestItems(t *testing.T) {
	assert.Nil(t, Items(nil))
	assert.Equal(t, []any{"a"}, Items([]any{"a"}))

	numeric := map[string]any{"1": "b", "0": "a", "10": "c"}
	assert.Equal(t, []any{"a", "b", "c"}, Items(numeric))

	single := map[string]any{"id": "1"}
	assert.Equal(t, []any{single}, Items(single))
}

func TestScalars(t *testing.T) {
	assert.Equal(t, "42", String(json.Number("42")))
	assert.Equal(t, "1.5", String(1.5))
	assert.Equal(t, "", String(map[string]any{}))

	n, ok := Int64("123")
	assert.True(t, ok)
	assert.Equal(t, int64(123), n)

	_, ok = Int64("abc")
	assert.False(t, ok)
}
