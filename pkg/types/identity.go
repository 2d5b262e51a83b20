package types

// Identity 对象身份
//
// Name 必须非空；Category 可选，用于默认 servant 的分组。
type Identity struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// IsZero 判断身份是否为空
func (id Identity) IsZero() bool {
	return id.Name == "" && id.Category == ""
}

// Validate 检查身份是否合法
func (id Identity) Validate() error {
	if id.Name == "" {
		return ErrIllegalIdentity
	}
	return nil
}

// String 返回未转义的简单表示，仅用于日志
func (id Identity) String() string {
	if id.Category == "" {
		return id.Name
	}
	return id.Category + "/" + id.Name
}
