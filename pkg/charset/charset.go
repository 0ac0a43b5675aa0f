// Package charset transcodes UTF-8 text into the EBU-Latin code page DAB
// uses for Dynamic Label Segment text (ETSI TS 101 756 Annex C, charset 0).
package charset

// tableOffset is the byte value the first table entry maps to; the first
// 32 code page positions are control characters and are not represented.
const tableOffset = 32

// table holds the UTF-8 representation of each EBU-Latin code page entry,
// indexed from 0 (byte value tableOffset) upward.
var table = [...]string{
	" ", "!", "\"", "#", "¤", "%", "&", "'",
	"(", ")", "*", "+", ",", "-", ".", "/",
	"0", "1", "2", "3", "4", "5", "6", "7",
	"8", "9", ":", ";", "<", "=", ">", "?",
	"@", "A", "B", "C", "D", "E", "F", "G",
	"H", "I", "J", "K", "L", "M", "N", "O",
	"P", "Q", "R", "S", "T", "U", "V", "W",
	"X", "Y", "Z", "[", "\\", "]", "—", "_",
	"‖", "a", "b", "c", "d", "e", "f", "g",
	"h", "i", "j", "k", "l", "m", "n", "o",
	"p", "q", "r", "s", "t", "u", "v", "w",
	"x", "y", "z", "{", "|", "}", "⎺", " ",
	"á", "à", "é", "è", "í", "ì", "ó", "ò",
	"ú", "ù", "Ñ", "Ç", "Ş", "ß", "¡", "Ĳ",
	"â", "ä", "ê", "ë", "î", "ï", "ô", "ö",
	"û", "ü", "ñ", "ç", "ş", "ǧ", "ı", "ĳ",
	"ª", "α", "©", "‰", "Ǧ", "ě", "ň", "ő",
	"π", "€", "£", "$", "←", "↑", "→", "↓",
	"º", "¹", "²", "³", "±", "İ", "ń", "ű",
	"μ", "¿", "÷", "°", "¼", "½", "¾", "§",
	"Á", "À", "Ê", "È", "Í", "Ì", "Ó", "Ò",
	"Ú", "Ù", "Ř", "Č", "Š", "Ž", "Ð", "Ŀ",
	"Â", "Ä", "Ê", "Ë", "Î", "Ï", "Ô", "Ö",
	"Û", "Ü", "ř", "č", "š", "ž", "đ", "ŀ",
	"Ã", "Å", "Æ", "Œ", "ŷ", "Ý", "Õ", "Ø",
	"Þ", "Ŋ", "Ŕ", "Ć", "Ś", "Ź", "∓", "ð",
	"ã", "å", "æ", "œ", "ŵ", "ý", "õ", "ø",
	"þ", "ŋ", "ŕ", "ć", "ś", "ź", "ł",
}

// codePointToByte maps a unicode code point to its EBU-Latin byte value,
// built once at package init for O(1) lookup.
var codePointToByte map[rune]byte

func init() {
	codePointToByte = make(map[rune]byte, len(table))
	for i, s := range table {
		r := []rune(s)[0]
		if _, exists := codePointToByte[r]; !exists {
			codePointToByte[r] = byte(tableOffset + i)
		}
	}
}

// Converter transcodes UTF-8 text to EBU-Latin bytes.
type Converter struct{}

// NewConverter returns a Converter backed by the static EBU-Latin table.
func NewConverter() *Converter {
	return &Converter{}
}

// Convert transcodes a line of UTF-8 text into EBU-Latin bytes. Code points
// with no EBU-Latin representation are mapped to a space, matching the
// original encoder's fallback behaviour.
func (c *Converter) Convert(line string) []byte {
	out := make([]byte, 0, len(line))
	for _, r := range line {
		if b, ok := codePointToByte[r]; ok {
			out = append(out, b)
		} else {
			out = append(out, ' ')
		}
	}
	return out
}
