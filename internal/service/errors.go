package service

import "errors"

// 业务层通用错误，会话层据此决定回给客户端的提示
// 注意：无权限删除他人消息时统一返回 ErrNotFound，不暴露消息是否存在
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNicknameTaken     = errors.New("nickname taken")
	ErrNicknameUnchanged = errors.New("nickname unchanged")
	ErrRateLimited       = errors.New("rename rate limited")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrNotFound          = errors.New("not found")
)
