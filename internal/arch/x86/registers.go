package x86

import (
	"strings"

	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/llil"
	"golang.org/x/arch/x86/x86asm"
)

const gprCount = 16

// regWidth returns the width in bytes of a general-purpose register, or 0
// for any other register.
func regWidth(r x86asm.Reg) int {
	switch {
	case r >= x86asm.AL && r <= x86asm.R15B:
		return 1
	case r >= x86asm.AX && r <= x86asm.R15W:
		return 2
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return 4
	case r >= x86asm.RAX && r <= x86asm.R15:
		return 8
	}
	return 0
}

// regIndex returns the encoding index (0 for a, 1 for c, ...) of a
// general-purpose register.
func regIndex(r x86asm.Reg) int {
	switch {
	case r >= x86asm.AL && r <= x86asm.BL:
		return int(r - x86asm.AL)
	case r >= x86asm.AH && r <= x86asm.BH:
		return int(r - x86asm.AH)
	case r >= x86asm.SPB && r <= x86asm.R15B:
		return int(r-x86asm.SPB) + 4
	case r >= x86asm.AX && r <= x86asm.R15W:
		return int(r - x86asm.AX)
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return int(r - x86asm.EAX)
	default:
		return int(r - x86asm.RAX)
	}
}

// fullReg returns the widest register of r's family in the given mode.
func fullReg(r x86asm.Reg, mode int) x86asm.Reg {
	if regWidth(r) == 0 {
		return r
	}
	if mode == 64 {
		return x86asm.RAX + x86asm.Reg(regIndex(r))
	}
	return x86asm.EAX + x86asm.Reg(regIndex(r))
}

// intelNames holds the registers whose Intel-syntax name differs from the
// decoder's constant name.
var intelNames = map[x86asm.Reg]string{
	x86asm.SPB: "spl", x86asm.BPB: "bpl", x86asm.SIB: "sil", x86asm.DIB: "dil",
	x86asm.R8L: "r8d", x86asm.R9L: "r9d", x86asm.R10L: "r10d", x86asm.R11L: "r11d",
	x86asm.R12L: "r12d", x86asm.R13L: "r13d", x86asm.R14L: "r14d", x86asm.R15L: "r15d",
}

// regName returns the Intel-syntax name of r, matching instruction text.
func regName(r x86asm.Reg) string {
	if n, ok := intelNames[r]; ok {
		return n
	}
	return strings.ToLower(r.String())
}

// registerSet lists the general-purpose registers visible in mode.
func registerSet(mode int) []x86asm.Reg {
	var regs []x86asm.Reg
	if mode == 64 {
		for r := x86asm.AL; r <= x86asm.R15B; r++ {
			regs = append(regs, r)
		}
		for i := 0; i < gprCount; i++ {
			regs = append(regs, x86asm.AX+x86asm.Reg(i), x86asm.EAX+x86asm.Reg(i), x86asm.RAX+x86asm.Reg(i))
		}
		return regs
	}
	for r := x86asm.AL; r <= x86asm.BH; r++ {
		regs = append(regs, r)
	}
	for i := 0; i < 8; i++ {
		regs = append(regs, x86asm.AX+x86asm.Reg(i), x86asm.EAX+x86asm.Reg(i))
	}
	return regs
}

func buildRegisters(mode int) ([]arch.Register, map[string]llil.RegisterID) {
	regs := registerSet(mode)
	out := make([]arch.Register, 0, len(regs))
	byName := make(map[string]llil.RegisterID, len(regs))
	for _, r := range regs {
		out = append(out, arch.Register{
			ID:   llil.RegisterID(r),
			Name: regName(r),
			Size: regWidth(r),
			Full: llil.RegisterID(fullReg(r, mode)),
		})
		byName[regName(r)] = llil.RegisterID(r)
	}
	return out, byName
}

var flags = []arch.Flag{
	{ID: 0, Name: "cf"},
	{ID: 2, Name: "pf"},
	{ID: 4, Name: "af"},
	{ID: 6, Name: "zf"},
	{ID: 7, Name: "sf"},
	{ID: 10, Name: "df"},
	{ID: 11, Name: "of"},
}

func ids(regs ...x86asm.Reg) []llil.RegisterID {
	out := make([]llil.RegisterID, len(regs))
	for i, r := range regs {
		out[i] = llil.RegisterID(r)
	}
	return out
}

var (
	cdecl = arch.CallingConvention{
		Name:           "cdecl",
		ReturnRegister: llil.RegisterID(x86asm.EAX),
		CallerSaved:    ids(x86asm.EAX, x86asm.ECX, x86asm.EDX),
	}
	sysv = arch.CallingConvention{
		Name:           "sysv",
		ArgRegisters:   ids(x86asm.RDI, x86asm.RSI, x86asm.RDX, x86asm.RCX, x86asm.R8, x86asm.R9),
		ReturnRegister: llil.RegisterID(x86asm.RAX),
		CallerSaved: ids(x86asm.RAX, x86asm.RCX, x86asm.RDX, x86asm.RSI, x86asm.RDI,
			x86asm.R8, x86asm.R9, x86asm.R10, x86asm.R11),
	}
)
