package commerce

// OpKind names a cart mutation.
type OpKind int

const (
	OpAdd OpKind = iota
	OpSetQuantity
	OpClear
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpSetQuantity:
		return "set_quantity"
	case OpClear:
		return "clear"
	default:
		return "unknown"
	}
}

func (k OpKind) action() string {
	switch k {
	case OpSetQuantity:
		return "update_quantity"
	case OpClear:
		return "clear_cart"
	default:
		return "add_to_cart"
	}
}

// Operation is a single cart mutation request.
type Operation struct {
	Kind     OpKind
	Quantity int
}

// Add increases the cart line by qty.
func Add(qty int) Operation { return Operation{Kind: OpAdd, Quantity: qty} }

// SetQuantity sets the cart line to qty; zero removes it.
func SetQuantity(qty int) Operation { return Operation{Kind: OpSetQuantity, Quantity: qty} }

// Clear empties the cart.
func Clear() Operation { return Operation{Kind: OpClear} }
