package uprobe

import (
	"debug/elf"
	"strings"

	"github.com/cockroachdb/errors"
)

// ELFInspector reads symbols from an on-disk binary. There is no
// third-party ELF package in this module's dependency set because the
// standard library's debug/elf covers everything needed here; only
// the BPF attach side needs toolchain bindings, and that lives with
// the capture layer.
type ELFInspector struct {
	file    *elf.File
	symbols []elf.Symbol
}

// OpenELF opens a binary for symbol inspection; it satisfies
// InspectorFactory.
func OpenELF(binaryPath string) (Inspector, error) {
	f, err := elf.Open(binaryPath)
	if err != nil {
		return nil, errors.Wrapf(err, "uprobe: opening %s", binaryPath)
	}

	symbols, err := f.Symbols()
	if err != nil {
		// Dynamic-only binaries still expose their exported functions.
		symbols, err = f.DynamicSymbols()
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "uprobe: no symbols in %s", binaryPath)
		}
	}

	return &ELFInspector{file: f, symbols: symbols}, nil
}

func (e *ELFInspector) ListFuncSymbols(pattern string, match SymbolMatchKind) ([]SymbolInfo, error) {
	var out []SymbolInfo
	for _, sym := range e.symbols {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
			continue
		}
		ok := false
		switch match {
		case MatchExact:
			ok = sym.Name == pattern
		case MatchPrefix:
			ok = strings.HasPrefix(sym.Name, pattern)
		case MatchSuffix:
			ok = strings.HasSuffix(sym.Name, pattern)
		}
		if ok {
			out = append(out, SymbolInfo{Name: sym.Name, Address: sym.Value})
		}
	}
	return out, nil
}

// FuncRetInstAddrs returns the address of each ret instruction inside
// the function's body, by scanning its code bytes for the x86-64 ret
// opcode (0xC3). Instructions are not decoded, so a 0xC3 byte that
// is part of a longer instruction is reported too. Probes at these
// addresses stand in for uretprobes on Go
// functions, whose stack copying breaks return-address patching.
func (e *ELFInspector) FuncRetInstAddrs(sym SymbolInfo) ([]uint64, error) {
	var symbol *elf.Symbol
	for i := range e.symbols {
		if e.symbols[i].Name == sym.Name {
			symbol = &e.symbols[i]
			break
		}
	}
	if symbol == nil || symbol.Size == 0 {
		return nil, errors.Newf("uprobe: no sized symbol %s", sym.Name)
	}

	section := e.sectionFor(symbol.Value)
	if section == nil {
		return nil, errors.Newf("uprobe: no section holds %s", sym.Name)
	}
	data, err := section.Data()
	if err != nil {
		return nil, errors.Wrapf(err, "uprobe: reading section for %s", sym.Name)
	}

	start := symbol.Value - section.Addr
	end := start + symbol.Size
	if end > uint64(len(data)) {
		return nil, errors.Newf("uprobe: symbol %s exceeds section bounds", sym.Name)
	}

	const retOpcode = 0xC3
	var addrs []uint64
	for off := start; off < end; off++ {
		if data[off] == retOpcode {
			addrs = append(addrs, section.Addr+off)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.Newf("uprobe: no ret instructions found in %s", sym.Name)
	}
	return addrs, nil
}

func (e *ELFInspector) sectionFor(addr uint64) *elf.Section {
	for _, s := range e.file.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		if addr >= s.Addr && addr < s.Addr+s.Size {
			return s
		}
	}
	return nil
}

func (e *ELFInspector) SymbolAddress(name string) (uint64, bool) {
	for _, sym := range e.symbols {
		if sym.Name == name {
			return sym.Value, true
		}
	}
	return 0, false
}

func (e *ELFInspector) Close() error { return e.file.Close() }
