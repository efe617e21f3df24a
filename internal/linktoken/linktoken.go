// Package linktoken 签发和校验通知深链的 HMAC 令牌。
// 令牌把 (用户名, 路径) 绑定在一起，持有链接的用户无需登录即可访问该路径。
package linktoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"ats-workflow/internal/types"
)

var ErrEmptySecret = errors.New("linktoken: secret is required")

// Signer 使用固定密钥签名
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign 返回 "username:path" 的 HMAC-SHA256 十六进制摘要
func (s *Signer) Sign(path, username string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(username + ":" + path))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 用户名或令牌为空时直接返回 false
func (s *Signer) Verify(path, username, token string) bool {
	if username == "" || token == "" {
		return false
	}
	expected := s.Sign(path, username)
	return hmac.Equal([]byte(expected), []byte(token))
}

// CandidatePath 候选人详情页路径
func CandidatePath(id types.RecordID) string {
	return fmt.Sprintf("/candidate/%d", id)
}

// LinkBuilder 生成通知里的查看链接
type LinkBuilder struct {
	BaseURL string
	Signer  *Signer
}

// ViewURL 有接收人且配置了签名时返回带令牌的深链，否则返回普通详情页链接
func (b LinkBuilder) ViewURL(candidateID types.RecordID, receiver string) string {
	base := strings.TrimRight(b.BaseURL, "/")
	if candidateID == 0 {
		return base
	}
	if receiver == "" || b.Signer == nil {
		return base + CandidatePath(candidateID)
	}
	q := url.Values{}
	q.Set("user", receiver)
	q.Set("token", b.Signer.Sign(CandidatePath(candidateID), receiver))
	return fmt.Sprintf("%s/candidate_link/%d?%s", base, candidateID, q.Encode())
}
