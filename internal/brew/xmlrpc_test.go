package brew

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCall(t *testing.T) {
	t.Parallel()
	payload, err := marshalCall("getBuild", []any{"etcd-3.5.9-2.el9", true, int64(42)})
	require.NoError(t, err)

	body := string(payload)
	assert.Contains(t, body, "<methodName>getBuild</methodName>")
	assert.Contains(t, body, "<string>etcd-3.5.9-2.el9</string>")
	assert.Contains(t, body, "<boolean>1</boolean>")
	assert.Contains(t, body, "<i8>42</i8>")
}

func TestMarshalCall_EscapesMarkup(t *testing.T) {
	t.Parallel()
	payload, err := marshalCall("echo", []any{"<nvr&>"})
	require.NoError(t, err)
	assert.Contains(t, string(payload), "&lt;nvr&amp;&gt;")
	assert.NotContains(t, string(payload), "<nvr&>")
}

func TestMarshalCall_RejectsUnsupportedTypes(t *testing.T) {
	t.Parallel()
	_, err := marshalCall("echo", []any{struct{}{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestUnmarshalResponse_GetLastEventShape(t *testing.T) {
	t.Parallel()
	raw := []byte(`<?xml version="1.0"?>
<methodResponse>
  <params>
    <param>
      <value><struct>
        <member><name>id</name><value><i4>57038541</i4></value></member>
        <member><name>ts</name><value><double>1692000000.123</double></value></member>
      </struct></value>
    </param>
  </params>
</methodResponse>`)

	value, err := unmarshalResponse(raw)
	require.NoError(t, err)
	m, ok := value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(57038541), m["id"])
	assert.InDelta(t, 1692000000.123, m["ts"], 0.001)
}

func TestUnmarshalResponse_ListShape(t *testing.T) {
	t.Parallel()
	raw := []byte(`<?xml version="1.0"?>
<methodResponse><params><param><value><array><data>
  <value><struct><member><name>name</name><value><string>rhaos-4.14-rhel-9-candidate</string></value></member></struct></value>
  <value><struct><member><name>name</name><value><string>rhaos-4.14-rhel-9</string></value></member></struct></value>
</data></array></value></param></params></methodResponse>`)

	value, err := unmarshalResponse(raw)
	require.NoError(t, err)
	entries, ok := value.([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)
	first, ok := entries[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "rhaos-4.14-rhel-9-candidate", first["name"])
}

func TestUnmarshalResponse_NilAndUntagged(t *testing.T) {
	t.Parallel()
	t.Run("nil value", func(t *testing.T) {
		value, err := unmarshalResponse([]byte(`<methodResponse><params><param><value><nil/></value></param></params></methodResponse>`))
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("untagged value decodes as string", func(t *testing.T) {
		value, err := unmarshalResponse([]byte(`<methodResponse><params><param><value>plain</value></param></params></methodResponse>`))
		require.NoError(t, err)
		assert.Equal(t, "plain", value)
	})
}

func TestUnmarshalResponse_Fault(t *testing.T) {
	t.Parallel()
	raw := []byte(`<?xml version="1.0"?>
<methodResponse><fault><value><struct>
  <member><name>faultCode</name><value><int>1000</int></value></member>
  <member><name>faultString</name><value><string>Invalid method</string></value></member>
</struct></value></fault></methodResponse>`)

	_, err := unmarshalResponse(raw)
	require.Error(t, err)
	var fault *faultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 1000, fault.Code)
	assert.Equal(t, "Invalid method", fault.String)
}
