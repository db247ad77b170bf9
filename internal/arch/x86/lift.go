package x86

import (
	"github.com/isseis/go-obfuhook/internal/llil"
	"golang.org/x/arch/x86/x86asm"
)

var binaryOps = map[x86asm.Op]llil.Operation{
	x86asm.ADD: llil.OpAdd,
	x86asm.SUB: llil.OpSub,
	x86asm.XOR: llil.OpXor,
	x86asm.AND: llil.OpAnd,
	x86asm.OR:  llil.OpOr,
}

// lifter translates one decoded instruction into IL.
type lifter struct {
	arch *Arch
	inst decodedInstruction
}

func unimplemented() []*llil.Expr {
	return []*llil.Expr{llil.NewExpr(llil.OpUnimplemented, 0, llil.FlagsNone)}
}

// lift returns the IL for the instruction. Instructions and operand forms
// outside the supported subset lift to a single unimplemented node.
func (l *lifter) lift() []*llil.Expr {
	d := l.inst
	args := d.Args

	switch d.Op {
	case x86asm.NOP:
		return []*llil.Expr{llil.Nop()}

	case x86asm.MOV:
		if len(args) != 2 {
			break
		}
		size := l.operandSize(args[0])
		if src, ok := l.read(args[1], size); ok {
			if e, ok := l.write(args[0], size, src); ok {
				return []*llil.Expr{e}
			}
		}

	case x86asm.LEA:
		if len(args) != 2 {
			break
		}
		dst, ok := args[0].(x86asm.Reg)
		mem, isMem := args[1].(x86asm.Mem)
		if !ok || !isMem || regWidth(dst) == 0 {
			break
		}
		if addr, ok := l.address(mem); ok {
			return []*llil.Expr{llil.SetReg(regWidth(dst), llil.RegisterID(dst), addr)}
		}

	case x86asm.ADD, x86asm.SUB, x86asm.XOR, x86asm.AND, x86asm.OR:
		if len(args) != 2 {
			break
		}
		size := l.operandSize(args[0])
		left, ok1 := l.read(args[0], size)
		right, ok2 := l.read(args[1], size)
		if !ok1 || !ok2 {
			break
		}
		if e, ok := l.write(args[0], size, llil.Binary(binaryOps[d.Op], size, llil.FlagsAll, left, right)); ok {
			return []*llil.Expr{e}
		}

	case x86asm.INC, x86asm.DEC:
		if len(args) != 1 {
			break
		}
		op := llil.OpAdd
		if d.Op == x86asm.DEC {
			op = llil.OpSub
		}
		size := l.operandSize(args[0])
		cur, ok := l.read(args[0], size)
		if !ok {
			break
		}
		if e, ok := l.write(args[0], size, llil.Binary(op, size, llil.FlagsNoCarry, cur, llil.Const(size, 1))); ok {
			return []*llil.Expr{e}
		}

	case x86asm.CMP, x86asm.TEST:
		if len(args) != 2 {
			break
		}
		op := llil.OpSub
		if d.Op == x86asm.TEST {
			op = llil.OpAnd
		}
		size := l.operandSize(args[0])
		left, ok1 := l.read(args[0], size)
		right, ok2 := l.read(args[1], size)
		if ok1 && ok2 {
			return []*llil.Expr{llil.Binary(op, size, llil.FlagsAll, left, right)}
		}

	case x86asm.PUSH:
		if len(args) != 1 {
			break
		}
		size := l.stackSize()
		if r, ok := args[0].(x86asm.Reg); ok {
			size = regWidth(r)
		}
		if v, ok := l.read(args[0], size); ok {
			return []*llil.Expr{llil.Unary(llil.OpPush, size, v)}
		}

	case x86asm.POP:
		if len(args) != 1 {
			break
		}
		size := l.operandSize(args[0])
		if e, ok := l.write(args[0], size, llil.NewExpr(llil.OpPop, size, llil.FlagsNone)); ok {
			return []*llil.Expr{e}
		}

	case x86asm.JMP:
		if len(args) != 1 {
			break
		}
		if target, ok := l.read(args[0], l.arch.AddressSize()); ok {
			return []*llil.Expr{llil.Unary(llil.OpJump, l.arch.AddressSize(), target)}
		}

	case x86asm.CALL:
		if len(args) != 1 {
			break
		}
		if target, ok := l.read(args[0], l.arch.AddressSize()); ok {
			return []*llil.Expr{llil.Unary(llil.OpCall, l.arch.AddressSize(), target)}
		}

	case x86asm.RET:
		size := l.arch.AddressSize()
		return []*llil.Expr{llil.Unary(llil.OpRet, size, llil.NewExpr(llil.OpPop, size, llil.FlagsNone))}

	case x86asm.SYSCALL, x86asm.SYSENTER:
		return []*llil.Expr{llil.NewExpr(llil.OpSyscall, 0, llil.FlagsNone)}

	case x86asm.INT:
		if len(args) == 1 {
			if imm, ok := args[0].(x86asm.Imm); ok {
				return []*llil.Expr{llil.NewExpr(llil.OpTrap, 0, llil.FlagsNone, llil.IntOperand(uint64(imm)&0xff))}
			}
		}

	case x86asm.HLT, x86asm.UD2:
		return []*llil.Expr{llil.NewExpr(llil.OpNoRet, 0, llil.FlagsNone)}

	default:
		if cond, ok := conditions[d.Op]; ok {
			if rel, ok := relArg(d); ok {
				size := l.arch.AddressSize()
				return []*llil.Expr{llil.If(
					llil.FlagCond(cond),
					llil.Const(size, l.arch.relTarget(d, rel)),
					llil.Const(size, l.arch.mask(d.next())),
				)}
			}
		}
	}
	return unimplemented()
}

// stackSize is the width of an implicit stack slot.
func (l *lifter) stackSize() int {
	if l.arch.mode == 64 {
		return 8
	}
	return 4
}

// operandSize returns the width of a destination operand.
func (l *lifter) operandSize(arg x86asm.Arg) int {
	switch a := arg.(type) {
	case x86asm.Reg:
		if w := regWidth(a); w != 0 {
			return w
		}
	case x86asm.Mem:
		if l.inst.Inst.MemBytes > 0 {
			return l.inst.Inst.MemBytes
		}
	}
	if l.inst.Inst.DataSize > 0 {
		return l.inst.Inst.DataSize / 8
	}
	return l.arch.DefaultIntegerSize()
}

// read returns an expression for the value of arg.
func (l *lifter) read(arg x86asm.Arg, size int) (*llil.Expr, bool) {
	switch a := arg.(type) {
	case x86asm.Reg:
		if a == x86asm.RIP || a == x86asm.EIP {
			return llil.Const(l.arch.AddressSize(), l.inst.next()), true
		}
		w := regWidth(a)
		if w == 0 {
			return nil, false
		}
		return llil.Reg(w, llil.RegisterID(a)), true
	case x86asm.Imm:
		return llil.Const(size, uint64(int64(a))), true
	case x86asm.Rel:
		return llil.Const(l.arch.AddressSize(), l.arch.relTarget(l.inst, a)), true
	case x86asm.Mem:
		addr, ok := l.address(a)
		if !ok {
			return nil, false
		}
		return llil.Unary(llil.OpLoad, size, addr), true
	}
	return nil, false
}

// write returns the IL statement storing value into arg.
func (l *lifter) write(arg x86asm.Arg, size int, value *llil.Expr) (*llil.Expr, bool) {
	switch a := arg.(type) {
	case x86asm.Reg:
		w := regWidth(a)
		if w == 0 {
			return nil, false
		}
		return llil.SetReg(w, llil.RegisterID(a), value), true
	case x86asm.Mem:
		addr, ok := l.address(a)
		if !ok {
			return nil, false
		}
		return llil.Store(size, addr, value), true
	}
	return nil, false
}

// address returns the effective address expression of a memory operand.
// Segment overrides other than the flat default are not modelled.
func (l *lifter) address(m x86asm.Mem) (*llil.Expr, bool) {
	switch m.Segment {
	case 0, x86asm.CS, x86asm.DS, x86asm.ES, x86asm.SS:
	default:
		return nil, false
	}

	size := l.arch.AddressSize()
	if l.inst.Inst.AddrSize > 0 {
		size = l.inst.Inst.AddrSize / 8
	}

	var addr *llil.Expr
	add := func(e *llil.Expr) {
		if addr == nil {
			addr = e
			return
		}
		addr = llil.Binary(llil.OpAdd, size, llil.FlagsNone, addr, e)
	}

	switch {
	case m.Base == x86asm.RIP || m.Base == x86asm.EIP:
		return llil.Const(size, l.inst.next()+uint64(m.Disp)), true
	case m.Base != 0:
		if regWidth(m.Base) == 0 {
			return nil, false
		}
		add(llil.Reg(regWidth(m.Base), llil.RegisterID(m.Base)))
	}

	if m.Index != 0 {
		if regWidth(m.Index) == 0 {
			return nil, false
		}
		idx := llil.Reg(regWidth(m.Index), llil.RegisterID(m.Index))
		if m.Scale > 1 {
			idx = llil.Binary(llil.OpMul, size, llil.FlagsNone, idx, llil.Const(size, uint64(m.Scale)))
		}
		add(idx)
	}

	if m.Disp != 0 || addr == nil {
		add(llil.Const(size, uint64(m.Disp)))
	}
	return addr, true
}
