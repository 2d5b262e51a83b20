package properties

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

var (
	errMismatchedQuotes = errors.New("mismatched quotes")

	// ErrConfigFile 配置文件无法读取或解析
	ErrConfigFile = errors.New("cannot load configuration file")
)

// ConfigEnv 未通过参数指定 Ice.Config 时读取的环境变量
const ConfigEnv = "ICE_CONFIG"

// Parse 从命令行参数创建属性集合
//
// 保留前缀（Ice、IceSSL 等）的 --Prefix.Key=Value 选项被消费，
// 其余参数原样返回。--Ice.Config 指定的文件在选项之前加载，
// 命令行选项覆盖文件中的同名属性。
func Parse(args []string) (*Properties, []string, error) {
	p := New()
	if err := p.ParseArgs(args, &args); err != nil {
		return nil, nil, err
	}
	return p, args, nil
}

// ParseArgs 把命令行选项合并到当前集合，rest 接收未消费的参数
func (p *Properties) ParseArgs(args []string, rest *[]string) error {
	opts := make(map[string]string)
	var remaining []string
	for _, arg := range args {
		key, value, ok := parseOption(arg)
		if !ok || !reservedKey(key) {
			remaining = append(remaining, arg)
			continue
		}
		opts[key] = value
	}

	configs, ok := opts["Ice.Config"]
	if !ok {
		if env := os.Getenv(ConfigEnv); env != "" {
			configs = env
			ok = true
		}
	}
	if ok {
		if err := p.LoadConfigList(configs); err != nil {
			return err
		}
		p.Set("Ice.Config", configs)
	}
	for k, v := range opts {
		if k == "Ice.Config" {
			continue
		}
		p.Set(k, v)
	}
	if rest != nil {
		*rest = remaining
	}
	return nil
}

// LoadConfigList 按顺序加载逗号分隔的配置文件列表
func (p *Properties) LoadConfigList(list string) error {
	files, err := SplitList(list)
	if err != nil {
		return fmt.Errorf("%w: Ice.Config: %v", ErrConfigFile, err)
	}
	for _, f := range files {
		if err := p.Load(f); err != nil {
			return err
		}
	}
	return nil
}

// Load 加载配置文件，格式由扩展名决定
//
//   - .json        JSON 对象，嵌套对象以 "." 展开
//   - .yaml / .yml YAML 映射，嵌套映射以 "." 展开
//   - 其他          key = value 文本格式
func (p *Properties) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigFile, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = p.loadJSON(f)
	case ".yaml", ".yml":
		err = p.loadYAML(f)
	default:
		err = p.LoadText(f)
	}
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrConfigFile, path, err)
	}
	logger.Debug("已加载配置文件", "path", path)
	return nil
}

// LoadText 读取 key = value 文本格式
//
// # 开始注释；\#、\= 与 \\ 为转义；值为空时删除该属性。
func (p *Properties) LoadText(r io.Reader) error {
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		key, value, ok := ParseLine(line)
		if ok {
			p.Set(key, value)
		}
	}
	return sc.Err()
}

// ParseLine 解析一行文本属性
func ParseLine(line string) (key, value string, ok bool) {
	var (
		k, v    strings.Builder
		inValue bool
		escaped bool
	)
	target := &k
scan:
	for _, r := range line {
		if escaped {
			escaped = false
			switch r {
			case '#', '=', '\\':
				target.WriteRune(r)
			default:
				target.WriteRune('\\')
				target.WriteRune(r)
			}
			continue
		}
		switch {
		case r == '\\':
			escaped = true
		case r == '#':
			break scan
		case r == '=' && !inValue:
			inValue = true
			target = &v
		default:
			target.WriteRune(r)
		}
	}
	if escaped {
		target.WriteRune('\\')
	}
	key = strings.TrimSpace(k.String())
	if !inValue || key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(v.String()), true
}

func (p *Properties) loadJSON(r io.Reader) error {
	var doc map[string]any
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return err
	}
	flatten("", doc, p.Set)
	return nil
}

func (p *Properties) loadYAML(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var doc map[any]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	flatten("", doc, p.Set)
	return nil
}

// flatten 把嵌套映射展开为 a.b.c 形式的键
func flatten(prefix string, node any, set func(k, v string)) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			flatten(join(k), v, set)
		}
	case map[any]any:
		for k, v := range n {
			flatten(join(fmt.Sprint(k)), v, set)
		}
	case []any:
		parts := make([]string, 0, len(n))
		for _, v := range n {
			parts = append(parts, fmt.Sprint(v))
		}
		set(prefix, strings.Join(parts, ","))
	case nil:
		set(prefix, "")
	case float64:
		set(prefix, strconv.FormatFloat(n, 'f', -1, 64))
	default:
		set(prefix, fmt.Sprint(n))
	}
}

func parseOption(arg string) (key, value string, ok bool) {
	if !strings.HasPrefix(arg, "--") {
		return "", "", false
	}
	body := arg[2:]
	if i := strings.IndexByte(body, '='); i >= 0 {
		key, value = body[:i], body[i+1:]
	} else {
		key, value = body, "1"
	}
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

func reservedKey(key string) bool {
	for _, prefix := range ReservedPrefixes {
		if strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}
