package graph

type ParamType string

const (
	TypeTensor  ParamType = "tensor"
	TypeNumber  ParamType = "number"
	TypeBool    ParamType = "bool"
	TypeString  ParamType = "string"
	TypeShape   ParamType = "shape"
	TypeDType   ParamType = "dtype"
	TypeTensors ParamType = "tensors"
)

// Param describes where an operation argument comes from.
// It is either read from Node.DataInputs()[Input] or is the attribute Value.
type Param struct {
	Type ParamType

	FromInput bool
	Input     int

	Value any
}

// InputParam reads an argument from the node input at position index.
func InputParam(index int, typ ParamType) *Param {
	return &Param{Type: typ, FromInput: true, Input: index}
}

// AttrParam is an argument fixed in the graph.
func AttrParam(typ ParamType, value any) *Param {
	return &Param{Type: typ, Value: value}
}
