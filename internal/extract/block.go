package extract

import "fmt"

// Kind tags a Block as prose or a code sample.
type Kind int

const (
	KindText Kind = iota
	KindCode
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCode:
		return "code"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind as "text" or "code" in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindText, KindCode:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("unknown block kind %d", int(k))
}

// UnmarshalText accepts the names produced by MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "text":
		*k = KindText
	case "code":
		*k = KindCode
	default:
		return fmt.Errorf("unknown block kind %q", string(b))
	}
	return nil
}

// Block is one unit of an extracted answer. Text is set for KindText;
// Language (possibly empty) and Code are set for KindCode.
type Block struct {
	Kind     Kind   `json:"kind"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
}

// TextBlock builds a prose block.
func TextBlock(text string) Block {
	return Block{Kind: KindText, Text: text}
}

// CodeBlock builds a code sample block.
func CodeBlock(language, code string) Block {
	return Block{Kind: KindCode, Language: language, Code: code}
}

func (b Block) IsText() bool { return b.Kind == KindText }
func (b Block) IsCode() bool { return b.Kind == KindCode }
