package isa

var (
	integerKinds        = []Kind{KindByte, KindShort, KindInt, KindLong, KindInteger}
	numericKinds        = append(append([]Kind{}, integerKinds...), KindReal)
	logicalKinds        = append(append([]Kind{}, integerKinds...), KindBoolean)
	comparableKindsList = AllKinds
)

// legalKinds is the table of (opcode, kind) pairs the interpreter
// implements. Anything missing from it is rejected both at assembly and at
// run time. REAL values share the arithmetic opcodes and are selected by
// the kind, there is no separate floating path.
var legalKinds = map[Opcode][]Kind{
	OpAdd: numericKinds,
	OpSub: numericKinds,
	OpMul: numericKinds,
	OpDiv: numericKinds,
	OpMod: integerKinds,
	OpNeg: numericKinds,

	OpAnd: logicalKinds,
	OpOr:  logicalKinds,
	OpXor: logicalKinds,
	OpNot: logicalKinds,
	OpShl: integerKinds,
	OpShr: integerKinds,

	OpCmp: comparableKindsList,
}

// Legal reports whether op may be executed with kind k. Opcodes that are not
// typed by a kind are never legal here.
func Legal(op Opcode, k Kind) bool {
	for _, legal := range legalKinds[op] {
		if legal == k {
			return true
		}
	}
	return false
}

// LegalKinds returns the kinds accepted by op.
func LegalKinds(op Opcode) []Kind {
	return append([]Kind(nil), legalKinds[op]...)
}

// LegalComparison reports whether comparator c is defined for kind k.
// Booleans only support equality.
func LegalComparison(k Kind, c Comparator) bool {
	if !Legal(OpCmp, k) || !c.Valid() {
		return false
	}
	return !(k == KindBoolean && c.Ordering())
}
