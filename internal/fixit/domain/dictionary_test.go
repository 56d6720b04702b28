package domain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSpecXML = `<fix major="4" minor="4">
  <fields>
    <field number="8" name="BeginString" type="STRING"/>
    <field number="35" name="MsgType" type="STRING">
      <value enum="0" description="HEARTBEAT"/>
      <value enum="A" description="LOGON"/>
      <value enum="D" description="NEWORDERSINGLE"/>
    </field>
    <field number="44" name="Price" type="PRICE"/>
    <field number="55" name="Symbol" type="STRING"/>
  </fields>
</fix>`

func writeSpec(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(testSpecXML), 0o644))
}

func TestResolveFieldAndMsgType(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "FIX44.xml")

	r := NewDictionaryResolver(dir)
	spec, err := r.Resolve("FIX.4.4")
	require.NoError(t, err)

	assert.Equal(t, 4, spec.FieldCount())
	assert.Equal(t, FieldDef{Name: "Price", Type: "PRICE"}, spec.ResolveField(44))
	assert.Equal(t, "LOGON", spec.ResolveMsgType("A"))
	assert.Equal(t, "HEARTBEAT", spec.ResolveMsgType("0"))
}

func TestResolveUnknownFallsBackToSentinel(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "FIX44.xml")

	r := NewDictionaryResolver(dir)
	spec, err := r.Resolve("FIX.4.4")
	require.NoError(t, err)

	// 自定义 tag 与未知消息类型是预期输入，查询不报错
	assert.Equal(t, FieldDef{Name: UnknownName, Type: UnknownName}, spec.ResolveField(9999))
	assert.Equal(t, UnknownName, spec.ResolveMsgType("ZZ"))
}

func TestResolveSpecNotFound(t *testing.T) {
	r := NewDictionaryResolver(t.TempDir())
	_, err := r.Resolve("FIX.4.2")
	assert.ErrorIs(t, err, ErrSpecNotFound)
}

func TestResolveFIXTFallsBackToApplicationSpec(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "FIX50SP2.xml")

	r := NewDictionaryResolver(dir)
	spec, err := r.Resolve("FIXT.1.1")
	require.NoError(t, err)
	assert.Equal(t, "FIXT.1.1", spec.BeginString)
	assert.Equal(t, "Symbol", spec.ResolveField(55).Name)
}

func TestResolveCachesLoadedSpec(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "FIX44.xml")

	r := NewDictionaryResolver(dir)
	first, err := r.Resolve("FIX.4.4")
	require.NoError(t, err)

	// 删除文件后命中缓存仍可解析
	require.NoError(t, os.Remove(filepath.Join(dir, "FIX44.xml")))
	second, err := r.Resolve("FIX.4.4")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestDescribe(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "FIX44.xml")

	r := NewDictionaryResolver(dir)
	spec, err := r.Resolve("FIX.4.4")
	require.NoError(t, err)

	assert.Equal(t, "Price(44)=9.5 [PRICE]",
		spec.Describe(Field{Tag: 44, Value: []byte("9.5")}))
	assert.Equal(t, "UNKNOWN(9999)=x [UNKNOWN]",
		spec.Describe(Field{Tag: 9999, Value: []byte("x")}))

	msg, _ := Parse([]byte("garbage"), SOHDelimiter)
	assert.Equal(t, `<opaque> "garbage"`, spec.Describe(msg.Fields()[0]))
}
