package irlink

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
)

type operandUser interface {
	Operands() []*value.Value
}

// ReplaceUses rewrites every operand of f found in repl, looking through
// constant expressions and aggregates.
func ReplaceUses(f *ir.Func, repl map[value.Value]value.Value) {
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			replaceOperands(inst, repl)
		}
		if b.Term != nil {
			replaceOperands(b.Term, repl)
		}
	}
}

func replaceOperands(v any, repl map[value.Value]value.Value) {
	user, ok := v.(operandUser)
	if !ok {
		return
	}
	for _, op := range user.Operands() {
		if op == nil || *op == nil {
			continue
		}
		*op = replaceValue(*op, repl)
	}
}

func replaceValue(v value.Value, repl map[value.Value]value.Value) value.Value {
	if to, ok := repl[v]; ok {
		return to
	}
	if c, ok := v.(constant.Constant); ok {
		return replaceConst(c, repl)
	}
	return v
}

func replaceConst(c constant.Constant, repl map[value.Value]value.Value) constant.Constant {
	if to, ok := repl[c]; ok {
		if tc, ok := to.(constant.Constant); ok {
			return tc
		}
	}
	switch c := c.(type) {
	case *constant.ExprBitCast:
		c.From = replaceConst(c.From, repl)
	case *constant.ExprPtrToInt:
		c.From = replaceConst(c.From, repl)
	case *constant.ExprGetElementPtr:
		c.Src = replaceConst(c.Src, repl)
	case *constant.Struct:
		for i := range c.Fields {
			c.Fields[i] = replaceConst(c.Fields[i], repl)
		}
	case *constant.Array:
		for i := range c.Elems {
			c.Elems[i] = replaceConst(c.Elems[i], repl)
		}
	}
	return c
}
