package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleDocument() *Map {
	doc := NewMap()
	http := doc.Child("http")
	routers := http.Child("routers")
	routers.Child("r_shop_test_1").
		Set("rule", "Host(`shop.test`) && PathPrefix(`/api`)").
		Set("service", "s_shop_test_1").
		Set("entryPoints", []string{"web"}).
		Set("priority", 10).
		Set("middlewares", []string{"m_https_shop_test_1"}).
		Set("tls", nil)
	services := http.Child("services")
	lb := services.Child("s_shop_test_1").Child("loadBalancer")
	lb.Set("servers", []*Map{NewMap().Set("url", "http://backend:8080")})
	lb.Set("healthCheck", nil)
	return doc
}

func TestRender_BlockStyle(t *testing.T) {
	got := string(Render(sampleDocument()))

	want := `http:
  routers:
    r_shop_test_1:
      rule: "Host(` + "`shop.test`" + `) && PathPrefix(` + "`/api`" + `)"
      service: s_shop_test_1
      entryPoints:
        - web
      priority: 10
      middlewares:
        - m_https_shop_test_1
  services:
    s_shop_test_1:
      loadBalancer:
        servers:
          - url: "http://backend:8080"
`
	assert.Equal(t, want, got)
}

func TestRender_OmitsEmptyValues(t *testing.T) {
	doc := NewMap()
	doc.Set("a", nil)
	doc.Set("b", NewMap())
	doc.Set("c", []string{})
	doc.Child("d").Set("inner", nil)
	doc.Set("e", "kept")

	assert.Equal(t, "e: kept\n", string(Render(doc)))
}

func TestRender_EmptyDocument(t *testing.T) {
	assert.Equal(t, "{}\n", string(Render(NewMap())))
}

func TestRender_PreservesInsertionOrder(t *testing.T) {
	doc := NewMap()
	for _, k := range []string{"zeta", "alpha", "mid", "beta"} {
		doc.Set(k, k)
	}
	doc.Set("alpha", "replaced")

	assert.Equal(t, "zeta: zeta\nalpha: replaced\nmid: mid\nbeta: beta\n", string(Render(doc)))
}

func TestRender_Deterministic(t *testing.T) {
	first := Render(sampleDocument())
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Render(sampleDocument()))
	}
}

func TestRender_ListOfMapsWithSeveralKeys(t *testing.T) {
	doc := NewMap()
	doc.Set("servers", []*Map{
		NewMap().Set("url", "a").Set("weight", 2),
		NewMap().Set("url", "b").Set("weight", 1),
	})

	want := "servers:\n  - url: a\n    weight: 2\n  - url: b\n    weight: 1\n"
	assert.Equal(t, want, string(Render(doc)))
}

func TestScalar(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{true, "true"},
		{false, "false"},
		{42, "42"},
		{int64(-7), "-7"},
		{1.5, "1.5"},
		{"plain", "plain"},
		{"Host(`a.test`)", "Host(`a.test`)"},
		{"", `""`},
		{" padded", `" padded"`},
		{"trailing ", `"trailing "`},
		{"a:b", `"a:b"`},
		{"a#b", `"a#b"`},
		{"{x}", `"{x}"`},
		{"[x]", `"[x]"`},
		{"a,b", `"a,b"`},
		{"a&b", `"a&b"`},
		{".*", `".*"`},
		{"what?", `"what?"`},
		{`say "hi": now`, `"say \"hi\": now"`},
		{`back\slash:`, `"back\\slash:"`},
		{"true", `"true"`},
		{"null", `"null"`},
		{"123", `"123"`},
		{"-dash", `"-dash"`},
		{"line\nbreak", `"line\nbreak"`},
		{"max-age=31536000; includeSubDomains", "max-age=31536000; includeSubDomains"},
		{"a\u0085b", `"a\Nb"`},
		{"a\u2028b", `"a\Lb"`},
		{"a\u2029b", `"a\Pb"`},
		{"\ufeffbom", `"\ufeffbom"`},
		{"zero\u200bwidth", `"zero\u200bwidth"`},
		{"2001-12-14", `"2001-12-14"`},
		{"2001-12-14T21:59:43Z", `"2001-12-14T21:59:43Z"`},
		{"1_000", `"1_000"`},
		{"0o17", `"0o17"`},
		{"$1cost", "$1cost"},
		{"café", "café"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Scalar(tt.in), "input %#v", tt.in)
	}
}

func TestScalar_PanicsOnUnsupportedType(t *testing.T) {
	assert.Panics(t, func() { Scalar(struct{}{}) })
}

func TestRender_ParsesAsYAML(t *testing.T) {
	doc := NewMap()
	m := doc.Child("http").Child("middlewares")
	m.Child("m_www").Child("redirectRegex").
		Set("regex", `^https?://www\.(.+)`).
		Set("replacement", "https://${1}").
		Set("permanent", true)
	m.Child("m_security").Child("headers").Child("customRequestHeaders").
		Set("X-Frame-Options", "DENY").
		Set("X-Weird", `quote " and : colon`).
		Set("X-Number", "1234")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(Render(doc), &decoded))

	mws := decoded["http"].(map[string]any)["middlewares"].(map[string]any)
	rr := mws["m_www"].(map[string]any)["redirectRegex"].(map[string]any)
	assert.Equal(t, `^https?://www\.(.+)`, rr["regex"])
	assert.Equal(t, "https://${1}", rr["replacement"])
	assert.Equal(t, true, rr["permanent"])

	headers := mws["m_security"].(map[string]any)["headers"].(map[string]any)["customRequestHeaders"].(map[string]any)
	assert.Equal(t, "DENY", headers["X-Frame-Options"])
	assert.Equal(t, `quote " and : colon`, headers["X-Weird"])
	assert.Equal(t, "1234", headers["X-Number"])
}

func TestRender_RoundTripsUserStrings(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"next line", "a\u0085b"},
		{"line separator", "a\u2028b"},
		{"paragraph separator", "a\u2029b"},
		{"byte order mark", "\ufeffbom"},
		{"no-break space", "nbsp\u00a0x"},
		{"zero width space", "a\u200bb"},
		{"control character", "bell\x07"},
		{"tab", "tab\there"},
		{"date", "2001-12-14"},
		{"timestamp", "2001-12-14 21:59:43.10 -5"},
		{"digit separators", "1_000"},
		{"hex", "0x1F"},
		{"octal", "0o17"},
		{"tilde", "~"},
		{"yes", "Yes"},
		{"dollar template", "https://new.test/$1cost"},
		{"quotes and colon", `say "hi": 'now'`},
		{"backslash", `C:\path\to`},
		{"leading percent", "%percent"},
		{"leading at", "@handle"},
		{"leading backtick", "`tick"},
		{"wide characters", "中文 😀"},
		{"flow indicators", "{a: [b, c]}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewMap()
			doc.Child("headers").Set("X-Value", tt.value).Set("X-After", "ok")

			var decoded map[string]map[string]any
			require.NoError(t, yaml.Unmarshal(Render(doc), &decoded), "rendered:\n%s", Render(doc))
			assert.Equal(t, tt.value, decoded["headers"]["X-Value"])
			assert.Equal(t, "ok", decoded["headers"]["X-After"])
		})
	}
}

func TestMap_ChildPanicsOnScalar(t *testing.T) {
	m := NewMap().Set("k", "v")
	assert.Panics(t, func() { m.Child("k") })
}
