package shader

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	spirvMagic      uint32 = 0x07230203
	spirvHeaderSize        = 5

	opSourceContinued = 2
	opSource          = 3
	opSourceExtension = 4
	opName            = 5
	opMemberName      = 6
	opString          = 7
	opLine            = 8
	opDecorate        = 71
	opNoLine          = 317
	opModuleProcessed = 330
	decorationBinding = 33
	decorationDescSet = 34
	wordCountShift    = 16
	opcodeMask        = 0xffff
)

// wordsFromBytes converts a little-endian SPIR-V byte stream into words.
func wordsFromBytes(code []byte) ([]uint32, error) {
	if len(code)%4 != 0 {
		return nil, fmt.Errorf("spir-v size %d is not a multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if err := validateHeader(words); err != nil {
		return nil, err
	}
	return words, nil
}

func validateHeader(words []uint32) error {
	if len(words) < spirvHeaderSize {
		return fmt.Errorf("spir-v module too short: %d words", len(words))
	}
	if words[0] != spirvMagic {
		return fmt.Errorf("bad spir-v magic %#08x", words[0])
	}
	return nil
}

// forEachInstruction calls fn with the offset and length of every
// instruction after the header.
func forEachInstruction(words []uint32, fn func(offset, count int, opcode uint32)) error {
	for i := spirvHeaderSize; i < len(words); {
		count := int(words[i] >> wordCountShift)
		if count == 0 || i+count > len(words) {
			return fmt.Errorf("malformed spir-v instruction at word %d", i)
		}
		fn(i, count, words[i]&opcodeMask)
		i += count
	}
	return nil
}

// remapBindings shifts every DescriptorSet and Binding decoration by the
// layout offsets, in place.
func remapBindings(words []uint32, layout BindingLayout) error {
	if layout.SetOffset == 0 && layout.BindingOffset == 0 {
		return nil
	}
	return forEachInstruction(words, func(offset, count int, opcode uint32) {
		if opcode != opDecorate || count < 4 {
			return
		}
		switch words[offset+2] {
		case decorationDescSet:
			words[offset+3] += layout.SetOffset
		case decorationBinding:
			words[offset+3] += layout.BindingOffset
		}
	})
}

func isDebugInstruction(opcode uint32) bool {
	switch opcode {
	case opSourceContinued, opSource, opSourceExtension, opName, opMemberName,
		opString, opLine, opNoLine, opModuleProcessed:
		return true
	}
	return false
}

// stripDebugInfo returns a copy of words without debug instructions.
func stripDebugInfo(words []uint32) ([]uint32, error) {
	out := make([]uint32, 0, len(words))
	out = append(out, words[:spirvHeaderSize]...)
	err := forEachInstruction(words, func(offset, count int, opcode uint32) {
		if !isDebugInstruction(opcode) {
			out = append(out, words[offset:offset+count]...)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const (
	opEntryPoint = 15

	executionModelVertex    = 0
	executionModelFragment  = 4
	executionModelGLCompute = 5
)

func executionModel(stage Stage) uint32 {
	switch stage {
	case STAGE_FRAGMENT:
		return executionModelFragment
	case STAGE_COMPUTE:
		return executionModelGLCompute
	}
	return executionModelVertex
}

// decodeString reads a nul-terminated literal string packed into words.
func decodeString(words []uint32) string {
	var sb strings.Builder
	for _, w := range words {
		for i := 0; i < 4; i++ {
			c := byte(w >> (8 * i))
			if c == 0 {
				return sb.String()
			}
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// hasEntryPoint reports whether words declare an entry point of the stage.
// An empty name matches any entry point of that stage.
func hasEntryPoint(words []uint32, stage Stage, name string) (bool, error) {
	model := executionModel(stage)
	found := false
	err := forEachInstruction(words, func(offset, count int, opcode uint32) {
		if opcode != opEntryPoint || count < 4 || words[offset+1] != model {
			return
		}
		if name == "" || decodeString(words[offset+3:offset+count]) == name {
			found = true
		}
	})
	return found, err
}
