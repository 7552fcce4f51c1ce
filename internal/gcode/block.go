package gcode

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"unicode"
)

// Word may either give a command or provide an argument to a command.
type Word struct {
	letter rune
	number float64
	// The original string that declared this word, used to avoid parsing / serializing
	// upper/lowercase letters or float point representation differences, for consistency on output.
	originalStr *string
}

// NewWordParse creates a Word from a given letter and a raw number string.
func NewWordParse(letter rune, number string) (*Word, error) {
	parsedNumber, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return nil, err
	}
	normalizedLetter := unicode.ToUpper(letter)
	originalStr := string(letter) + number
	return &Word{letter: normalizedLetter, number: parsedNumber, originalStr: &originalStr}, nil
}

func (w *Word) Letter() rune {
	return w.letter
}

func (w *Word) Number() float64 {
	return w.number
}

// String gives the representation of the word: the exact original source text when one was
// parsed (preserving letter casing and float point representation), a normalized render
// otherwise.
func (w *Word) String() string {
	if w.originalStr != nil {
		return *w.originalStr
	}
	return w.NormalizedString()
}

// NormalizedString is like String, but always returns a consistent representation: uppercase
// letter; commands without decimals when integral (G1) and with one decimal otherwise (G28.1);
// 4-decimal precision for arguments.
func (w *Word) NormalizedString() string {
	if w.IsCommand() {
		intPart, frac := math.Modf(w.number)
		if frac == 0 {
			return fmt.Sprintf("%c%.0f", w.letter, intPart)
		}
		return fmt.Sprintf("%c%.1f", w.letter, w.number)
	}
	return fmt.Sprintf("%c%.4f", w.letter, w.number)
}

// IsCommand returns true if the word is a command (letter G or M).
func (w *Word) IsCommand() bool {
	return w.letter == 'G' || w.letter == 'M'
}

// Block is a line which may carry a system query or one or more commands with their arguments.
type Block struct {
	system *string
	words  []*Word
}

func NewBlockSystem(system string) *Block {
	return &Block{system: &system}
}

func NewBlockCommand(words ...*Word) *Block {
	return &Block{words: words}
}

func (b *Block) IsSystem() bool {
	return b.system != nil
}

func (b *Block) IsCommand() bool {
	return len(b.words) > 0
}

func (b *Block) AppendCommandWords(words ...*Word) {
	if !b.IsCommand() {
		panic("bug: attempting to add word to a block that's not a command")
	}
	b.words = append(b.words, words...)
}

func (b *Block) String() string {
	var buf bytes.Buffer
	if b.system != nil {
		buf.WriteString(*b.system)
	}
	for _, w := range b.words {
		buf.WriteString(w.String())
	}
	return buf.String()
}

// NormalizedString renders the block using each word's NormalizedString, for consistent wire output.
func (b *Block) NormalizedString() string {
	var buf bytes.Buffer
	if b.system != nil {
		buf.WriteString(*b.system)
	}
	for i, w := range b.words {
		if i > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.NormalizedString())
	}
	return buf.String()
}

// Commands returns all G/M words in the block.
func (b *Block) Commands() []*Word {
	var cmds []*Word
	for _, w := range b.words {
		if w.IsCommand() {
			cmds = append(cmds, w)
		}
	}
	return cmds
}

// Arguments returns all non-command words in the block.
func (b *Block) Arguments() []*Word {
	var args []*Word
	for _, w := range b.words {
		if !w.IsCommand() {
			args = append(args, w)
		}
	}
	return args
}

// eepromCommands lists G/M codes that mutate EEPROM-backed settings on Grbl. These can't be
// safely interleaved with in-flight, unacknowledged lines under character-counting flow control.
var eepromCommands = map[string]bool{
	"G10": true, // work coordinate system / tool table set (L2, L20)
	"G28": true, // go to / set pre-defined position 1
	"G30": true, // go to / set pre-defined position 2
	"G54": true,
	"G55": true,
	"G56": true,
	"G57": true,
	"G58": true,
	"G59": true,
}

// IsEEPROM returns true if the block is a system ($-prefixed) settings write, or a command that
// writes to Grbl's EEPROM-backed settings/work-coordinate storage.
func (b *Block) IsEEPROM() bool {
	if b.system != nil {
		s := *b.system
		// $<n>=<val> writes a setting; bare $-commands ($G, $X, $H, $C, $#, ...) are queries.
		return len(s) > 1 && s[1] >= '0' && s[1] <= '9'
	}
	for _, w := range b.Commands() {
		if eepromCommands[w.NormalizedString()] {
			return true
		}
		// G28.1 / G30.1 set the stored position rather than moving to it.
		if (w.NormalizedString() == "G28.1") || (w.NormalizedString() == "G30.1") {
			return true
		}
	}
	return false
}
