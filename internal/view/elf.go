package view

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/safefileio"
	"github.com/yalue/elf_reader"
)

const (
	elfClass32 = 1
	elfClass64 = 2

	elfDataLSB = 1
	elfDataMSB = 2

	emX86   = 3
	emX8664 = 62

	shtNobits = 8

	elfHeaderMin = 32
)

// machineArchitectures maps ELF machine types to architecture names.
var machineArchitectures = map[uint16]string{
	emX86:   "x86",
	emX8664: "x86_64",
}

// OpenELF loads the ELF image at path. Every allocated section that holds
// file data is mapped at its virtual address, and a function is defined at
// the entry point when it lies in executable code.
func OpenELF(path string, archs *arch.Registry) (*View, error) {
	data, err := safefileio.SafeReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return LoadELF(data, path, archs)
}

// LoadELF loads an ELF image from memory. path is informational.
func LoadELF(data []byte, path string, archs *arch.Registry) (*View, error) {
	archName, entry, err := elfHeader(data)
	if err != nil {
		return nil, err
	}

	elfFile, err := elf_reader.ParseELFFile(data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse ELF file: %v", ErrUnsupportedImage, err)
	}

	var segments []Segment
	for i := uint16(0); i < elfFile.GetSectionCount(); i++ {
		header, err := elfFile.GetSectionHeader(i)
		if err != nil {
			continue
		}
		flags := header.GetFlags()
		if !flags.Allocated() || uint32(header.GetType()) == shtNobits || header.GetSize() == 0 {
			continue
		}
		content, err := elfFile.GetSectionContent(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read section %d: %w", i, err)
		}
		name, _ := elfFile.GetSectionName(i)
		segments = append(segments, Segment{
			Name:       name,
			Start:      header.GetVirtualAddress(),
			Data:       content,
			Executable: flags.Executable(),
		})
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no allocated sections", ErrUnsupportedImage)
	}

	v, err := newView(IDFromContent(data), path, archName, archs, entry, segments)
	if err != nil {
		return nil, err
	}

	if v.IsExecutable(entry) {
		if _, err := v.AddFunction(entry); err != nil {
			return nil, err
		}
	}

	slog.Debug("Loaded ELF image",
		slog.String("path", path),
		slog.String("view", string(v.ID())),
		slog.String("arch", archName),
		slog.Int("sections", len(segments)))
	return v, nil
}

// elfHeader reads the class, machine and entry point from the file header.
func elfHeader(data []byte) (string, uint64, error) {
	if len(data) < elfHeaderMin || string(data[:4]) != "\x7fELF" {
		return "", 0, fmt.Errorf("%w: not an ELF file", ErrUnsupportedImage)
	}

	var order binary.ByteOrder
	switch data[5] {
	case elfDataLSB:
		order = binary.LittleEndian
	case elfDataMSB:
		order = binary.BigEndian
	default:
		return "", 0, fmt.Errorf("%w: invalid data encoding %d", ErrUnsupportedImage, data[5])
	}

	machine := order.Uint16(data[18:20])
	archName, ok := machineArchitectures[machine]
	if !ok {
		return "", 0, fmt.Errorf("%w: machine type %d", ErrUnsupportedImage, machine)
	}

	var entry uint64
	switch data[4] {
	case elfClass32:
		entry = uint64(order.Uint32(data[24:28]))
	case elfClass64:
		entry = order.Uint64(data[24:32])
	default:
		return "", 0, fmt.Errorf("%w: invalid class %d", ErrUnsupportedImage, data[4])
	}
	return archName, entry, nil
}
