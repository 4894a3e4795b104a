package dap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ctagard/sdb-dap/pkg/types"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		v    types.Variable
		hex  bool
		want string
	}{
		{"integer", types.Variable{ValueType: types.VariableTypeInteger, Value: "255"}, false, "255"},
		{"integer hex", types.Variable{ValueType: types.VariableTypeInteger, Value: "255"}, true, "0xff"},
		{"negative hex", types.Variable{ValueType: types.VariableTypeInteger, Value: "-16"}, true, "-0x10"},
		{"unparsable integer", types.Variable{ValueType: types.VariableTypeInteger, Value: "big"}, true, "big"},
		{"string ignores hex", types.Variable{ValueType: types.VariableTypeString, Value: "12"}, true, "12"},
		{"float ignores hex", types.Variable{ValueType: types.VariableTypeFloat, Value: "1.5"}, true, "1.5"},
		{"closure", types.Variable{ValueType: types.VariableTypeClosure, Value: "main"}, false, "FUNCTION main"},
		{"class", types.Variable{ValueType: types.VariableTypeClass, Value: "Foo"}, false, "CLASS Foo"},
		{"instance", types.Variable{ValueType: types.VariableTypeInstance, Value: "{}", InstanceClassName: "Foo"}, false, "<Foo> {}"},
		{"instance without class", types.Variable{ValueType: types.VariableTypeInstance, Value: "{}"}, false, "<INSTANCE> {}"},
		{"instance address", types.Variable{ValueType: types.VariableTypeInstance, Value: "{}", InstanceClassName: "Foo", ValueRawAddress: 0xbeef}, false, "<Foo> {} (0xbeef)"},
		{"instance address is real hex", types.Variable{ValueType: types.VariableTypeInstance, Value: "{}", InstanceClassName: "Foo", ValueRawAddress: 4096}, false, "<Foo> {} (0x1000)"},
		{"instance address ignores hex toggle", types.Variable{ValueType: types.VariableTypeInstance, Value: "{}", InstanceClassName: "Foo", ValueRawAddress: 4096}, true, "<Foo> {} (0x1000)"},
		{"table", types.Variable{ValueType: types.VariableTypeTable, Value: "[3]"}, false, "TABLE [3]"},
		{"array", types.Variable{ValueType: types.VariableTypeArray, Value: "[2]"}, false, "ARRAY [2]"},
		{"null", types.Variable{ValueType: types.VariableTypeNull, Value: "null"}, false, "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.v, tt.hex))
		})
	}
}

func TestFormatValue_HexOnlyChangesIntegers(t *testing.T) {
	for _, vt := range []types.VariableType{
		types.VariableTypeString, types.VariableTypeBool, types.VariableTypeFloat,
		types.VariableTypeClosure, types.VariableTypeClass, types.VariableTypeInstance,
		types.VariableTypeArray, types.VariableTypeTable, types.VariableTypeOther, types.VariableTypeNull,
	} {
		v := types.Variable{ValueType: vt, Value: "42"}
		assert.Equal(t, FormatValue(v, false), FormatValue(v, true), vt.String())
	}
}

func TestPresentationHint(t *testing.T) {
	hint := PresentationHint(types.Variable{ValueType: types.VariableTypeClosure})
	if assert.NotNil(t, hint) {
		assert.Equal(t, "method", hint.Kind)
	}
	hint = PresentationHint(types.Variable{ValueType: types.VariableTypeClass})
	if assert.NotNil(t, hint) {
		assert.Equal(t, "class", hint.Kind)
	}
	assert.Nil(t, PresentationHint(types.Variable{ValueType: types.VariableTypeInteger}))
}

func TestMemoryReference(t *testing.T) {
	assert.Equal(t, "0x7ffe1000", memoryReference(0x7ffe1000))
}
