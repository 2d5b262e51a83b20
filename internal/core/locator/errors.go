package locator

import "errors"

var (
	// ErrAdapterNotFound 定位器不认识该适配器
	ErrAdapterNotFound = errors.New("adapter not found")

	// ErrObjectNotFound 定位器不认识该对象
	ErrObjectNotFound = errors.New("object not found")

	// ErrNoRegistry 定位器没有注册表
	ErrNoRegistry = errors.New("locator has no registry")

	// ErrServerNotFound 注册表不认识该服务器 ID
	ErrServerNotFound = errors.New("server not found")
)

// 远程定位器返回的用户异常类型
const (
	AdapterNotFoundTypeID = "::Ice::AdapterNotFoundException"
	ObjectNotFoundTypeID  = "::Ice::ObjectNotFoundException"
	ServerNotFoundTypeID  = "::Ice::ServerNotFoundException"
)
