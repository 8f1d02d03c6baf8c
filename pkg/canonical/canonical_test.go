package canonical

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/titan-aas/titan/pkg/aas"
)

func TestDecodeRejections(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"duplicate key", `{"a":1,"a":2}`},
		{"trailing content", `{"a":1} {}`},
		{"trailing scalar", `1 2`},
		{"bad utf8", "{\"a\":\"\xff\"}"},
		{"truncated", `{"a":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.in), 0)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestDecodeDepthBound(t *testing.T) {
	deep := strings.Repeat("[", 10) + strings.Repeat("]", 10)
	_, err := Decode([]byte(deep), 4)
	require.ErrorIs(t, err, ErrValidation)

	_, err = Decode([]byte(deep), 16)
	require.NoError(t, err)
}

func TestDecodeNumbersVerbatim(t *testing.T) {
	n, err := Decode([]byte(`{"a":1.50,"b":1e2,"c":-0}`), 0)
	require.NoError(t, err)
	require.Equal(t, "1.50", n.Field("a").Num)
	require.Equal(t, "1e2", n.Field("b").Num)
	require.Equal(t, "-0", n.Field("c").Num)

	// Round trip keeps the exact text.
	require.Equal(t, `{"a":1.50,"b":1e2,"c":-0}`, string(Encode(n)))
}

func TestEncodeSortsKeysAndDropsNulls(t *testing.T) {
	n, err := Decode([]byte(`{"zeta":1,"alpha":null,"beta":{"y":null,"x":2}}`), 0)
	require.NoError(t, err)
	require.Equal(t, `{"beta":{"x":2},"zeta":1}`, string(Encode(n)))
}

func TestEncodeEscaping(t *testing.T) {
	n := aas.Object()
	n.SetField("s", aas.String("a\"b\\c\nd\tef"))
	require.Equal(t, `{"s":"a\"b\\c\nd\tef"}`, string(Encode(n)))

	// Non-ASCII passes through as UTF-8, no \u escapes.
	n = aas.Object()
	n.SetField("s", aas.String("ünïcode ☃"))
	require.Equal(t, `{"s":"ünïcode ☃"}`, string(Encode(n)))
}

func TestETagStableAcrossKeyOrder(t *testing.T) {
	a, err := Decode([]byte(`{"x":1,"y":"2"}`), 0)
	require.NoError(t, err)
	b, err := Decode([]byte(`{"y":"2","x":1}`), 0)
	require.NoError(t, err)

	ba, ea := Recanonicalize(a)
	bb, eb := Recanonicalize(b)
	require.Equal(t, ba, bb)
	require.Equal(t, ea, eb)
	require.Len(t, ea, 64)
}

const validShell = `{
  "id": "urn:shell:1",
  "idShort": "Pump",
  "modelType": "AssetAdministrationShell",
  "assetInformation": {
    "assetKind": "Instance",
    "globalAssetId": "urn:asset:1",
    "specificAssetIds": [
      {"name": "serial", "value": "SN-42"}
    ]
  },
  "submodels": [
    {"type": "ModelReference", "keys": [{"type": "Submodel", "value": "urn:sm:1"}]}
  ]
}`

const validSubmodel = `{
  "id": "urn:sm:1",
  "idShort": "Operational",
  "modelType": "Submodel",
  "kind": "Instance",
  "semanticId": {"type": "ExternalReference", "keys": [{"type": "GlobalReference", "value": "urn:sem:op"}]},
  "submodelElements": [
    {"idShort": "Temp", "modelType": "Property", "valueType": "xs:double", "value": "21.5"},
    {
      "idShort": "Limits",
      "modelType": "SubmodelElementCollection",
      "value": [
        {"idShort": "Max", "modelType": "Range", "valueType": "xs:int", "min": "0", "max": "100"}
      ]
    },
    {
      "idShort": "Readings",
      "modelType": "SubmodelElementList",
      "typeValueListElement": "Property",
      "value": [
        {"modelType": "Property", "valueType": "xs:int", "value": "1"}
      ]
    }
  ]
}`

const validConcept = `{
  "id": "urn:cd:1",
  "idShort": "Temperature",
  "modelType": "ConceptDescription",
  "isCaseOf": [
    {"type": "ExternalReference", "keys": [{"type": "GlobalReference", "value": "urn:iec:temp"}]}
  ]
}`

const validShellDescriptor = `{
  "id": "urn:shell:1",
  "idShort": "Pump",
  "assetKind": "Instance",
  "endpoints": [
    {"interface": "AAS-3.0", "href": "https://twin.example.com/shells/x"}
  ]
}`

const validSubmodelDescriptor = `{
  "id": "urn:sm:1",
  "semanticId": {"type": "ExternalReference", "keys": [{"type": "GlobalReference", "value": "urn:sem:op"}]},
  "endpoints": [
    {"interface": "SUBMODEL-3.0", "href": "https://twin.example.com/submodels/x"}
  ]
}`

func TestParseAndValidateAccepts(t *testing.T) {
	cases := []struct {
		kind aas.Kind
		raw  string
	}{
		{aas.KindShell, validShell},
		{aas.KindSubmodel, validSubmodel},
		{aas.KindConceptDescription, validConcept},
		{aas.KindShellDescriptor, validShellDescriptor},
		{aas.KindSubmodelDescriptor, validSubmodelDescriptor},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			doc, b, etag, err := ParseAndValidate([]byte(tc.raw), tc.kind, Options{})
			require.NoError(t, err)
			require.Equal(t, tc.kind, doc.Kind)
			require.NotEmpty(t, doc.ID)
			require.NotEmpty(t, b)
			require.Equal(t, ETagOf(b), etag)

			// Canonical bytes are a fixed point.
			root, err := Decode(b, 0)
			require.NoError(t, err)
			require.Equal(t, b, Encode(root))
		})
	}
}

func TestParseAndValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		kind aas.Kind
		raw  string
	}{
		{"unknown key", aas.KindShell, `{"id":"urn:s","assetInformation":{"assetKind":"Instance"},"bogus":1}`},
		{"missing id", aas.KindShell, `{"assetInformation":{"assetKind":"Instance"}}`},
		{"missing assetInformation", aas.KindShell, `{"id":"urn:s"}`},
		{"bad assetKind", aas.KindShell, `{"id":"urn:s","assetInformation":{"assetKind":"Thing"}}`},
		{"wrong modelType tag", aas.KindSubmodel, `{"id":"urn:sm","modelType":"Submodell"}`},
		{"bad idShort chars", aas.KindSubmodel, `{"id":"urn:sm","idShort":"has space"}`},
		{"idShort starts with digit", aas.KindSubmodel, `{"id":"urn:sm","idShort":"1abc"}`},
		{"unknown element type", aas.KindSubmodel, `{"id":"urn:sm","submodelElements":[{"idShort":"X","modelType":"Widget"}]}`},
		{"property without valueType", aas.KindSubmodel, `{"id":"urn:sm","submodelElements":[{"idShort":"X","modelType":"Property","value":"1"}]}`},
		{"property value violates type", aas.KindSubmodel, `{"id":"urn:sm","submodelElements":[{"idShort":"X","modelType":"Property","valueType":"xs:int","value":"abc"}]}`},
		{"duplicate sibling idShort", aas.KindSubmodel, `{"id":"urn:sm","submodelElements":[{"idShort":"X","modelType":"Capability"},{"idShort":"X","modelType":"Capability"}]}`},
		{"idShort on list item", aas.KindSubmodel, `{"id":"urn:sm","submodelElements":[{"idShort":"L","modelType":"SubmodelElementList","value":[{"idShort":"X","modelType":"Capability"}]}]}`},
		{"blob without contentType", aas.KindSubmodel, `{"id":"urn:sm","submodelElements":[{"idShort":"B","modelType":"Blob","value":"aGk="}]}`},
		{"blob bad base64", aas.KindSubmodel, `{"id":"urn:sm","submodelElements":[{"idShort":"B","modelType":"Blob","contentType":"text/plain","value":"!!"}]}`},
		{"descriptor without endpoints", aas.KindShellDescriptor, `{"id":"urn:s"}`},
		{"descriptor endpoint missing href", aas.KindShellDescriptor, `{"id":"urn:s","endpoints":[{"interface":"AAS-3.0"}]}`},
		{"reference empty keys", aas.KindConceptDescription, `{"id":"urn:cd","isCaseOf":[{"type":"ExternalReference","keys":[]}]}`},
		{"reference bad type", aas.KindConceptDescription, `{"id":"urn:cd","isCaseOf":[{"type":"SomeReference","keys":[{"type":"X","value":"urn:y"}]}]}`},
		{"bad language tag", aas.KindSubmodel, `{"id":"urn:sm","description":[{"language":"no spaces!","text":"x"}]}`},
		{"top level not object", aas.KindSubmodel, `[1,2]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := ParseAndValidate([]byte(tc.raw), tc.kind, Options{})
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestElementDepthLimit(t *testing.T) {
	// Build nested collections five deep, validate with a limit of three.
	inner := `{"idShort":"P","modelType":"Property","valueType":"xs:int","value":"1"}`
	for i := 0; i < 5; i++ {
		inner = `{"idShort":"C` + strings.Repeat("c", i) + `","modelType":"SubmodelElementCollection","value":[` + inner + `]}`
	}
	raw := `{"id":"urn:sm","submodelElements":[` + inner + `]}`

	_, _, _, err := ParseAndValidate([]byte(raw), aas.KindSubmodel, Options{RecursionDepthLimit: 3})
	require.ErrorIs(t, err, ErrValidation)

	_, _, _, err = ParseAndValidate([]byte(raw), aas.KindSubmodel, Options{RecursionDepthLimit: 10})
	require.NoError(t, err)
}

func TestDeepDocumentRedecodes(t *testing.T) {
	// A document accepted near the default element depth limit must survive
	// the round trip every reader of stored canonical bytes performs.
	inner := `{"idShort":"P","modelType":"Property","valueType":"xs:int","value":"1"}`
	for i := 0; i < 40; i++ {
		inner = `{"idShort":"C` + strings.Repeat("c", i) + `","modelType":"SubmodelElementCollection","value":[` + inner + `]}`
	}
	raw := `{"id":"urn:sm","submodelElements":[` + inner + `]}`

	_, body, _, err := ParseAndValidate([]byte(raw), aas.KindSubmodel, Options{})
	require.NoError(t, err)

	root, err := Decode(body, DecodeDepthFor(0))
	require.NoError(t, err)
	require.Equal(t, body, Encode(root))
}

func TestIdentifierChecks(t *testing.T) {
	long := strings.Repeat("x", MaxIdentifierBytes+1)
	_, _, _, err := ParseAndValidate([]byte(`{"id":"`+long+`"}`), aas.KindConceptDescription, Options{})
	require.ErrorIs(t, err, ErrValidation)

	// Decomposed form (e + combining acute) is rejected; precomposed passes.
	_, _, _, err = ParseAndValidate([]byte("{\"id\":\"urn:cafe\u0301\"}"), aas.KindConceptDescription, Options{})
	require.ErrorIs(t, err, ErrValidation)
	_, _, _, err = ParseAndValidate([]byte("{\"id\":\"urn:caf\u00e9\"}"), aas.KindConceptDescription, Options{})
	require.NoError(t, err)
}

func TestValueText(t *testing.T) {
	ok := []struct {
		vt aas.ValueType
		s  string
	}{
		{"xs:string", "anything at all"},
		{"xs:boolean", "true"},
		{"xs:double", "1.5e-3"},
		{"xs:double", "INF"},
		{"xs:double", "NaN"},
		{"xs:decimal", "-123.456"},
		{"xs:decimal", "0"},
		{"xs:integer", "-42"},
		{"xs:positiveInteger", "1"},
		{"xs:nonPositiveInteger", "0"},
		{"xs:negativeInteger", "-7"},
		{"xs:byte", "-128"},
		{"xs:unsignedByte", "255"},
		{"xs:int", "2147483647"},
		{"xs:unsignedLong", "18446744073709551615"},
		{"xs:dateTime", "2026-08-24T12:00:00Z"},
		{"xs:date", "2026-08-24"},
		{"xs:time", "12:00:00"},
		{"xs:duration", "P1Y2M3DT4H5M6.7S"},
		{"xs:duration", "PT0.5S"},
		{"xs:duration", "-P1D"},
		{"xs:gYear", "2026"},
		{"xs:gMonthDay", "--08-24"},
		{"xs:base64Binary", "aGVsbG8="},
		{"xs:hexBinary", "DEADbeef"},
		{"xs:anyURI", "https://example.com/a b"},
	}
	for _, tc := range ok {
		require.NoError(t, validateValueText(tc.vt, tc.s), "%s %q", tc.vt, tc.s)
	}

	bad := []struct {
		vt aas.ValueType
		s  string
	}{
		{"xs:boolean", "True"},
		{"xs:boolean", "1"},
		{"xs:double", "1,5"},
		{"xs:decimal", "1e5"},
		{"xs:decimal", "1."},
		{"xs:decimal", ".5"},
		{"xs:integer", "1.0"},
		{"xs:positiveInteger", "0"},
		{"xs:negativeInteger", "0"},
		{"xs:nonPositiveInteger", "3"},
		{"xs:byte", "128"},
		{"xs:unsignedByte", "-1"},
		{"xs:int", "2147483648"},
		{"xs:dateTime", "2026-08-24 12:00:00"},
		{"xs:date", "24.08.2026"},
		{"xs:time", "25:00:00"},
		{"xs:duration", "P"},
		{"xs:duration", "PT"},
		{"xs:duration", "P1H"},
		{"xs:duration", "PT1.5H"},
		{"xs:gMonthDay", "08-24"},
		{"xs:base64Binary", "not base64!"},
		{"xs:hexBinary", "abc"},
		{"xs:hexBinary", "zz"},
	}
	for _, tc := range bad {
		require.ErrorIs(t, validateValueText(tc.vt, tc.s), ErrValidation, "%s %q", tc.vt, tc.s)
	}

	require.Error(t, validateValueText("xs:unknown", "x"))
}

func TestExtractedHeaderFromShell(t *testing.T) {
	doc, _, _, err := ParseAndValidate([]byte(validShell), aas.KindShell, Options{})
	require.NoError(t, err)
	require.Equal(t, "urn:shell:1", doc.ID)
	require.Equal(t, "Pump", doc.IDShort)
	require.Equal(t, "Instance", doc.AssetKind)
	require.Equal(t, "urn:asset:1", doc.GlobalAssetID)
	require.Equal(t, []string{"urn:asset:1", "SN-42"}, doc.AssetIDs)
}
