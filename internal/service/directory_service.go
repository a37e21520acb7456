package service

import (
	"errors"
	"strings"
	"time"

	"context"

	"chatrelay/internal/model"

	"gorm.io/gorm"
)

// userStore 目录服务依赖的存储能力，由 repository.UserRepository 实现
type userStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, userID string) (*model.User, error)
	GetByNickname(ctx context.Context, nickname string) (*model.User, error)
	UpdateNickname(ctx context.Context, userID, nickname string) error
	TouchLastSeen(ctx context.Context, userID string, t time.Time) error
	AppendNicknameChange(ctx context.Context, userID string, t time.Time) error
	CountNicknameChangesSince(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	ListDMPartnerNicknames(ctx context.Context, userID string) ([]string, error)
}

// DirectoryService 用户目录服务
// 负责身份与昵称的持久化：连接时的昵称对齐、显式改名（带滑动窗口限频）
// 昵称唯一性以数据库唯一索引为最终防线，所有写入点都将唯一索引冲突
// 翻译成 ErrNicknameTaken（预检查和写入之间存在并发窗口）
type DirectoryService struct {
	store        userStore
	renameWindow time.Duration
	renameLimit  int
}

// NewDirectoryService 创建DirectoryService实例
func NewDirectoryService(store userStore, renameWindow time.Duration, renameLimit int) *DirectoryService {
	return &DirectoryService{
		store:        store,
		renameWindow: renameWindow,
		renameLimit:  renameLimit,
	}
}

// ResolveOrCreate 连接时的身份解析
// 已存在的用户：请求昵称与库中不一致时尝试对齐，若昵称已被他人占用则
// 静默保留库中昵称并置 corrected=true（调用方需告知客户端实际生效的昵称）；
// 每次成功连接都会刷新 last_seen
// 新用户：昵称必须全局唯一，否则返回 ErrNicknameTaken
func (s *DirectoryService) ResolveOrCreate(ctx context.Context, userID, requestedNickname string) (*model.User, bool, error) {
	userID = strings.TrimSpace(userID)
	requestedNickname = strings.TrimSpace(requestedNickname)
	if userID == "" || requestedNickname == "" {
		return nil, false, ErrInvalidInput
	}

	now := time.Now()

	u, err := s.store.GetByID(ctx, userID)
	if err == nil {
		corrected := false
		if requestedNickname != u.Nickname {
			corrected, err = s.reconcileNickname(ctx, u, requestedNickname)
			if err != nil {
				return nil, false, err
			}
		}
		// 连接成功即刷新 last_seen，失败不影响连接
		if terr := s.store.TouchLastSeen(ctx, userID, now); terr == nil {
			u.LastSeen = now
		}
		return u, corrected, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	// 新用户注册：预检查昵称占用
	if _, err := s.store.GetByNickname(ctx, requestedNickname); err == nil {
		return nil, false, ErrNicknameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	u = &model.User{
		UserID:   userID,
		Nickname: requestedNickname,
		LastSeen: now,
	}
	if err := s.store.Create(ctx, u); err != nil {
		// 预检查通过后仍可能撞唯一索引（并发注册同名）
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, ErrNicknameTaken
		}
		return nil, false, err
	}
	return u, false, nil
}

// reconcileNickname 对齐已存在用户的昵称，返回是否被服务端纠正
func (s *DirectoryService) reconcileNickname(ctx context.Context, u *model.User, requested string) (bool, error) {
	other, err := s.store.GetByNickname(ctx, requested)
	if err == nil {
		if other.UserID == u.UserID {
			// 库中记录即本人（大小写以外的并发对齐），视为已一致
			u.Nickname = requested
			return false, nil
		}
		// 被他人占用：静默保留库中昵称
		return true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if err := s.store.UpdateNickname(ctx, u.UserID, requested); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 预检查与写入之间被抢注，同样回退到库中昵称
			return true, nil
		}
		return false, err
	}
	u.Nickname = requested
	return false, nil
}

// Rename 显式改名
// 失败情形依次为：昵称未变化、窗口内改名次数超限、昵称被占用
// 成功后追加一条改名流水（尽力而为，不参与事务）
func (s *DirectoryService) Rename(ctx context.Context, userID, newNickname string) (*model.User, error) {
	newNickname = strings.TrimSpace(newNickname)
	if userID == "" || newNickname == "" {
		return nil, ErrInvalidInput
	}

	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if newNickname == u.Nickname {
		return nil, ErrNicknameUnchanged
	}

	now := time.Now()
	count, err := s.store.CountNicknameChangesSince(ctx, userID, now.Add(-s.renameWindow))
	if err != nil {
		return nil, err
	}
	if count >= int64(s.renameLimit) {
		return nil, ErrRateLimited
	}

	if _, err := s.store.GetByNickname(ctx, newNickname); err == nil {
		return nil, ErrNicknameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.store.UpdateNickname(ctx, userID, newNickname); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrNicknameTaken
		}
		return nil, err
	}
	_ = s.store.AppendNicknameChange(ctx, userID, now)

	u.Nickname = newNickname
	return u, nil
}

// FindByNickname 按昵称查找用户
func (s *DirectoryService) FindByNickname(ctx context.Context, nickname string) (*model.User, error) {
	u, err := s.store.GetByNickname(ctx, nickname)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// ListDMPartnerNicknames 列出与该用户有过私聊往来的用户昵称
func (s *DirectoryService) ListDMPartnerNicknames(ctx context.Context, userID string) ([]string, error) {
	return s.store.ListDMPartnerNicknames(ctx, userID)
}
