package dap

import (
	"strconv"
	"strings"

	"github.com/google/go-dap"

	"github.com/ctagard/sdb-dap/pkg/types"
)

// FormatValue renders a variable value for display. Integers switch to hex
// when hex is set; compound values are prefixed with their kind.
func FormatValue(v types.Variable, hex bool) string {
	switch v.ValueType {
	case types.VariableTypeInteger:
		if hex {
			if n, err := strconv.ParseInt(strings.TrimSpace(v.Value), 10, 64); err == nil {
				if n < 0 {
					return "-0x" + strconv.FormatUint(uint64(-n), 16)
				}
				return "0x" + strconv.FormatInt(n, 16)
			}
		}
		return v.Value
	case types.VariableTypeClosure:
		return "FUNCTION " + v.Value
	case types.VariableTypeClass:
		return "CLASS " + v.Value
	case types.VariableTypeInstance:
		name := v.InstanceClassName
		if name == "" {
			name = "INSTANCE"
		}
		s := "<" + name + "> " + v.Value
		if v.ValueRawAddress != 0 {
			s += " (" + memoryReference(v.ValueRawAddress) + ")"
		}
		return s
	case types.VariableTypeTable, types.VariableTypeArray:
		return strings.ToUpper(v.ValueType.String()) + " " + v.Value
	default:
		return v.Value
	}
}

// PresentationHint marks closures as methods and classes as classes
func PresentationHint(v types.Variable) *dap.VariablePresentationHint {
	switch v.ValueType {
	case types.VariableTypeClosure:
		return &dap.VariablePresentationHint{Kind: "method"}
	case types.VariableTypeClass:
		return &dap.VariablePresentationHint{Kind: "class"}
	default:
		return nil
	}
}

func memoryReference(addr uint64) string {
	return "0x" + strconv.FormatUint(addr, 16)
}
