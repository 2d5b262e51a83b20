package endpoint

import (
	"strconv"
	"strings"
	"time"
)

// Tokenize 按空白切分端点参数，双引号内的空白保留
func Tokenize(s string) ([]string, error) {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
		have   bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			have = true
		case !quoted && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			if have {
				out = append(out, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if quoted {
		return nil, parseError("mismatched quotes in `%s'", s)
	}
	if have {
		out = append(out, cur.String())
	}
	return out, nil
}

// SplitList 按 ":" 切分端点列表，引号内的 ":" 保留
func SplitList(s string) []string {
	var (
		out    []string
		start  int
		quoted bool
	)
	for i, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ':' && !quoted:
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out
}

// options 端点选项解析结果
type options struct {
	host     string
	hostSet  bool
	port     int
	timeout  time.Duration
	compress bool
	resource string
}

func parseOptions(protocol string, args []string, websocket bool, def options) (options, error) {
	o := def
	for i := 0; i < len(args); i++ {
		opt := args[i]
		if !strings.HasPrefix(opt, "-") {
			return o, parseError("expected an option in `%s %s'", protocol, strings.Join(args, " "))
		}
		arg := ""
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			arg = args[i+1]
		}
		need := func() error {
			if arg == "" {
				return parseError("no argument provided for %s option in endpoint `%s %s'", opt, protocol, strings.Join(args, " "))
			}
			i++
			return nil
		}

		switch opt {
		case "-h":
			if err := need(); err != nil {
				return o, err
			}
			o.host = arg
			o.hostSet = true
		case "-p":
			if err := need(); err != nil {
				return o, err
			}
			p, err := strconv.Atoi(arg)
			if err != nil || p < 0 || p > 65535 {
				return o, parseError("invalid port value `%s' in endpoint `%s'", arg, protocol)
			}
			o.port = p
		case "-t":
			if err := need(); err != nil {
				return o, err
			}
			if arg == "infinite" {
				o.timeout = -1
				break
			}
			ms, err := strconv.Atoi(arg)
			if err != nil || ms < 1 {
				return o, parseError("invalid timeout value `%s' in endpoint `%s'", arg, protocol)
			}
			o.timeout = time.Duration(ms) * time.Millisecond
		case "-z":
			o.compress = true
		case "-r":
			if !websocket {
				return o, parseError("unknown option `%s' in endpoint `%s'", opt, protocol)
			}
			if err := need(); err != nil {
				return o, err
			}
			o.resource = arg
		default:
			return o, parseError("unknown option `%s' in endpoint `%s'", opt, protocol)
		}
	}
	return o, nil
}
