// Package roles 用户注册表与角色解析
package roles

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"ats-workflow/internal/types"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultRole 未登记用户的角色
	DefaultRole = "User"

	roleDepartmentManager = "department manager"
	roleDisciplineManager = "discipline manager"
)

var (
	ErrUnknownUser        = errors.New("unknown user")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateUser      = errors.New("duplicate username")
)

// hashCost bcrypt 代价，测试里调低
var hashCost = bcrypt.DefaultCost

// User 注册表中的一个用户
type User struct {
	Username     string           `yaml:"username" json:"username"`
	UserID       types.FlexString `yaml:"user_id" json:"user_id"`
	PasswordHash string           `yaml:"password_hash,omitempty" json:"password_hash,omitempty"`
	// 旧版 userdata.json 里的明文密码，加载时转成 bcrypt 哈希
	Password   string `yaml:"password,omitempty" json:"password,omitempty"`
	Role       string `yaml:"role" json:"role"`
	Department string `yaml:"department" json:"department"`
}

// Assignee 角色解析结果
type Assignee struct {
	Role     string
	Username string
	UserID   string
}

// Registry 只读用户注册表，加载一次后注入到各组件
type Registry struct {
	users  []User
	byName map[string]int
}

type registryFile struct {
	Users []User `yaml:"users"`
}

// Load 按扩展名加载注册表：.json 为旧版 userdata 数组，其余按 YAML 解析
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取用户注册表失败: %w", err)
	}

	var users []User
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &users); err != nil {
			return nil, fmt.Errorf("解析 userdata.json 失败: %w", err)
		}
	} else {
		var f registryFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("解析用户注册表失败: %w", err)
		}
		users = f.Users
	}
	return NewRegistry(users)
}

// NewRegistry 按登记顺序构建注册表，明文密码在这里哈希掉
func NewRegistry(users []User) (*Registry, error) {
	r := &Registry{
		users:  make([]User, 0, len(users)),
		byName: make(map[string]int, len(users)),
	}
	for _, u := range users {
		u.Username = strings.TrimSpace(u.Username)
		if u.Username == "" {
			continue
		}
		if _, dup := r.byName[u.Username]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUser, u.Username)
		}
		if u.Password != "" && u.PasswordHash == "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), hashCost)
			if err != nil {
				return nil, fmt.Errorf("哈希用户 %s 的密码失败: %w", u.Username, err)
			}
			u.PasswordHash = string(hash)
		}
		u.Password = ""
		r.byName[u.Username] = len(r.users)
		r.users = append(r.users, u)
	}
	return r, nil
}

// Lookup 按用户名查找
func (r *Registry) Lookup(username string) (User, bool) {
	i, ok := r.byName[username]
	if !ok {
		return User{}, false
	}
	return r.users[i], true
}

// RoleOf 用户角色，未登记或角色为空时返回 "User"
func (r *Registry) RoleOf(username string) string {
	if u, ok := r.Lookup(username); ok && u.Role != "" {
		return u.Role
	}
	return DefaultRole
}

// Users 按登记顺序返回所有用户
func (r *Registry) Users() []User {
	out := make([]User, len(r.users))
	copy(out, r.users)
	return out
}

// Authenticate 校验用户名和密码
func (r *Registry) Authenticate(username, secret string) (User, error) {
	u, ok := r.Lookup(username)
	if !ok {
		return User{}, ErrUnknownUser
	}
	if u.PasswordHash == "" {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(secret)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// NormalizeDepartment 小写并去掉所有非字母数字字符，"R&D " 与 "rd" 相同
func NormalizeDepartment(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func (u User) isDepartmentManager() bool {
	return strings.Contains(strings.ToLower(u.Role), roleDepartmentManager)
}

func (u User) assignee() Assignee {
	return Assignee{Role: u.Role, Username: u.Username, UserID: string(u.UserID)}
}

// ResolveDepartmentManager 找负责该部门的部门经理
// 依次尝试：规范化后完全相同、首个词相同、登记顺序中的第一个部门经理
func (r *Registry) ResolveDepartmentManager(department string) (Assignee, bool) {
	target := NormalizeDepartment(department)
	targetToken := firstToken(department)

	var tokenMatch, first *User
	for i := range r.users {
		u := &r.users[i]
		if !u.isDepartmentManager() {
			continue
		}
		if NormalizeDepartment(u.Department) == target {
			return u.assignee(), true
		}
		if tokenMatch == nil && firstToken(u.Department) == targetToken {
			tokenMatch = u
		}
		if first == nil {
			first = u
		}
	}
	switch {
	case tokenMatch != nil:
		return tokenMatch.assignee(), true
	case first != nil:
		return first.assignee(), true
	}
	return Assignee{}, false
}

// DisciplineManagers 同部门(不区分大小写)的学科经理
func (r *Registry) DisciplineManagers(department string) []User {
	var out []User
	for _, u := range r.users {
		if strings.ToLower(u.Role) != roleDisciplineManager {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(u.Department), strings.TrimSpace(department)) {
			out = append(out, u)
		}
	}
	return out
}
