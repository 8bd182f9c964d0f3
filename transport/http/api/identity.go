package api

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/kochabx/vidchat/errors"
)

// StaticUser 配置文件中的用户，Password 为 bcrypt 哈希
type StaticUser struct {
	Password string `mapstructure:"password" validate:"required"`
	Email    string `mapstructure:"email"`
}

// StaticIdentityProvider 基于固定用户表的身份认证
type StaticIdentityProvider struct {
	users map[string]StaticUser
	dummy []byte
}

func NewStaticIdentityProvider(users map[string]StaticUser) (*StaticIdentityProvider, error) {
	// 未知用户也做一次比较，使两种失败耗时相近
	dummy, err := bcrypt.GenerateFromPassword([]byte("vidchat"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &StaticIdentityProvider{users: users, dummy: dummy}, nil
}

func (p *StaticIdentityProvider) Authenticate(_ context.Context, creds Credentials) (*Identity, error) {
	user, ok := p.users[creds.Username]
	hash := p.dummy
	if ok {
		hash = []byte(user.Password)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(creds.Password)); err != nil || !ok {
		return nil, errors.ErrInvalidSession.WithReason("bad_credentials")
	}
	return &Identity{Subject: creds.Username, Email: user.Email}, nil
}
