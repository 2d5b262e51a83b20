package commrt

import (
	"errors"
	"fmt"
	"io"

	"github.com/dep2p/go-commrt/internal/core/instance"
	"github.com/dep2p/go-commrt/internal/core/properties"
)

// Option 通信器配置选项
//
// 选项按传入顺序应用到同一个属性集合，后设置的值覆盖先设置的值。
type Option func(*options) error

type options struct {
	props    *properties.Properties
	logger   Logger
	observer CommunicatorObserver
	stdout   io.Writer
	stderr   io.Writer
}

func newOptions(opts []Option) (*options, error) {
	o := &options{props: properties.New()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *options) initData() instance.InitData {
	return instance.InitData{
		Properties: o.props,
		Logger:     o.logger,
		Observer:   o.observer,
		Stdout:     o.stdout,
		Stderr:     o.stderr,
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              属性来源
// ════════════════════════════════════════════════════════════════════════════

// WithProperties 以 props 的副本作为初始属性
//
// 应放在其他属性选项之前，否则之前设置的属性会被丢弃。
func WithProperties(props *Properties) Option {
	return func(o *options) error {
		if props == nil {
			return errors.New("properties is nil")
		}
		o.props = props.Clone()
		return nil
	}
}

// WithProperty 设置单个属性
func WithProperty(key, value string) Option {
	return func(o *options) error {
		if key == "" {
			return errors.New("property key is empty")
		}
		o.props.Set(key, value)
		return nil
	}
}

// WithPropertyMap 批量设置属性
func WithPropertyMap(m map[string]string) Option {
	return func(o *options) error {
		for k, v := range m {
			o.props.Set(k, v)
		}
		return nil
	}
}

// WithConfigFile 加载配置文件，多个文件以逗号分隔
//
// 支持 key=value 文本格式、.json 与 .yaml/.yml。
func WithConfigFile(path string) Option {
	return func(o *options) error {
		if err := o.props.LoadConfigList(path); err != nil {
			return fmt.Errorf("load config %q: %w", path, err)
		}
		return nil
	}
}

// WithArgs 从命令行参数读取 --Ice.X=Y 形式的选项
//
// --Ice.Config 指定的文件先于其他选项加载；未消费的参数写入 rest（可为 nil）。
func WithArgs(args []string, rest *[]string) Option {
	return func(o *options) error {
		return o.props.ParseArgs(args, rest)
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              可插拔组件
// ════════════════════════════════════════════════════════════════════════════

// WithLogger 使用调用方提供的 Logger，优先于 Ice.LogFile
func WithLogger(l Logger) Option {
	return func(o *options) error {
		o.logger = l
		return nil
	}
}

// WithObserver 使用调用方提供的观察者，此时不创建内置 Metrics 观察者
func WithObserver(obs CommunicatorObserver) Option {
	return func(o *options) error {
		o.observer = obs
		return nil
	}
}

// WithOutput 设置 Ice.PrintProcessId 与 Process facet 的输出目标
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) error {
		o.stdout = stdout
		o.stderr = stderr
		return nil
	}
}
