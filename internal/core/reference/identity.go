package reference

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dep2p/go-commrt/pkg/types"
)

// IdentityToString 按 mode 转义身份
func IdentityToString(id types.Identity, mode types.ToStringMode) string {
	if id.Category == "" {
		return escape(id.Name, "/", mode)
	}
	return escape(id.Category, "/", mode) + "/" + escape(id.Name, "/", mode)
}

// StringToIdentity 解析转义后的身份字符串
func StringToIdentity(s string) (types.Identity, error) {
	slash := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == '/' {
			if slash >= 0 {
				return types.Identity{}, fmt.Errorf("%w: unescaped '/' in `%s'", types.ErrIdentityParse, s)
			}
			slash = i
		}
	}

	var id types.Identity
	var err error
	if slash < 0 {
		id.Name, err = unescape(s)
	} else {
		if id.Category, err = unescape(s[:slash]); err == nil {
			id.Name, err = unescape(s[slash+1:])
		}
	}
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", types.ErrIdentityParse, err)
	}
	if id.Name == "" && id.Category != "" {
		return types.Identity{}, fmt.Errorf("%w: empty name with category `%s'", types.ErrIllegalIdentity, id.Category)
	}
	return id, nil
}

// escape 转义字符串，special 中的字符额外加反斜杠
func escape(s, special string, mode types.ToStringMode) string {
	var b strings.Builder
	for i, r := range s {
		switch r {
		case '\\', '\'', '"':
			b.WriteByte('\\')
			b.WriteRune(r)
			continue
		case '\b':
			b.WriteString(`\b`)
			continue
		case '\f':
			b.WriteString(`\f`)
			continue
		case '\n':
			b.WriteString(`\n`)
			continue
		case '\r':
			b.WriteString(`\r`)
			continue
		case '\t':
			b.WriteString(`\t`)
			continue
		}
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
			b.WriteRune(r)
			continue
		}

		switch {
		case r < 0x20 || r == 0x7f:
			if mode == types.ToStringCompat {
				fmt.Fprintf(&b, `\%03o`, r)
			} else {
				fmt.Fprintf(&b, `\u%04X`, r)
			}
		case r < 0x80:
			b.WriteRune(r)
		case mode == types.ToStringUnicode && unicode.IsPrint(r):
			b.WriteRune(r)
		case mode == types.ToStringCompat:
			_, size := utf8.DecodeRuneInString(s[i:])
			for j := 0; j < size; j++ {
				fmt.Fprintf(&b, `\%03o`, s[i+j])
			}
		case r > 0xFFFF:
			fmt.Fprintf(&b, `\U%08X`, r)
		default:
			fmt.Fprintf(&b, `\u%04X`, r)
		}
	}
	return b.String()
}

// unescape 反转义
//
// 八进制转义表示单个字节，连续的八进制转义组合为 UTF-8 序列。
func unescape(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("unmatched escape at end of `%s'", s)
		}
		switch c = s[i]; c {
		case '\\', '\'', '"', '/', '?':
			b.WriteByte(c)
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'u', 'U':
			n := 4
			if c == 'U' {
				n = 8
			}
			if i+1+n > len(s) {
				return "", fmt.Errorf("incomplete \\%c escape in `%s'", c, s)
			}
			v, err := strconv.ParseUint(s[i+1:i+1+n], 16, 32)
			if err != nil {
				return "", fmt.Errorf("invalid \\%c escape in `%s'", c, s)
			}
			b.WriteRune(rune(v))
			i += n
		default:
			if c < '0' || c > '7' {
				return "", fmt.Errorf("invalid escape \\%c in `%s'", c, s)
			}
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, err := strconv.ParseUint(s[i:j], 8, 16)
			if err != nil || v > 0xff {
				return "", fmt.Errorf("octal escape out of range in `%s'", s)
			}
			b.WriteByte(byte(v))
			i = j - 1
		}
	}
	out := b.String()
	if !utf8.ValidString(out) {
		return "", fmt.Errorf("invalid UTF-8 in `%s'", s)
	}
	return out, nil
}
