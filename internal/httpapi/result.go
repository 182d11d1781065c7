package httpapi

// Result 设备直连接口的统一响应包
// - code: ResultEnum.SUCCESS = 2000
// - type: 'success' | 'error' | 'warning'
// - message: string
// - result: any
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
	// TokenExpired 使用 code=60401 + HTTP 401（前端 Axios 拦截器会特殊处理）
	ResultTokenExpired = 60401

	// 直连会话的业务错误码，前端据此区分提示
	ResultSessionNotFound = 40401
	ResultLinkBusy        = 40901
	ResultLinkDialFailed  = 50201
	ResultLinkUnavailable = 50301
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

// FailWithCode 带业务错误码的失败结果
func FailWithCode(code int, message string) Result[any] {
	return Result[any]{Code: code, Type: "error", Message: message, Result: nil}
}

// TokenExpired 令牌过期或无效
func TokenExpired(message string) Result[any] {
	return Result[any]{Code: ResultTokenExpired, Type: "error", Message: message, Result: nil}
}
