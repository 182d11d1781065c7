package session

// RoleAdmin 可以查看其他会话设备的远程日志
const RoleAdmin = "admin"

// Viewer 会话所属用户
type Viewer struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// CanViewRemoteLogs 只有管理员可以轮询远程日志
func (v Viewer) CanViewRemoteLogs() bool {
	return v.Role == RoleAdmin
}
