package app

import (
	"time"

	"golang.org/x/oauth2"

	"github.com/wyfcoding/coursestore/jwt"
)

// serviceRole 访问层以服务身份调用文件接口时携带的角色。
const serviceRole = "SERVICE"

// jwtTokenSource 用服务端密钥签发短期令牌，httpclient 在过期前复用。
type jwtTokenSource struct {
	secret  string
	issuer  string
	subject string
	ttl     time.Duration
	now     func() time.Time
}

func (s *jwtTokenSource) Token() (*oauth2.Token, error) {
	raw, err := jwt.GenerateToken(0, s.subject, []string{serviceRole}, s.secret, s.issuer, s.ttl)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: raw, TokenType: "Bearer", Expiry: s.now().Add(s.ttl)}, nil
}

// tokenSource 固定令牌优先；否则用 JWT 密钥签发服务令牌；两者都没有时返回 nil，请求不带凭据。
func tokenSource(static, secret, issuer, subject string, ttl time.Duration) oauth2.TokenSource {
	if static != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: static})
	}
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &jwtTokenSource{secret: secret, issuer: issuer, subject: subject, ttl: ttl, now: time.Now}
}
