package domain

import "time"

// User — человек, от имени которого выпускаются access-токены.
// Единственная мутация в ядре — смена текущего воркспейса.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	OrgID       string    `json:"org_id"`
	WorkspaceID string    `json:"workspace_id"` // Текущий (активный) воркспейс
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Org — верхняя граница тенанта. Владеет воркспейсами.
type Org struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Упорядоченный список воркспейсов. Инвариант: каждый id существует в реестре.
	WorkspaceIDs []string  `json:"workspace_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

// Workspace принадлежит ровно одной организации.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OrgID     string    `json:"org_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone возвращает независимую копию для выдачи из-под лока стора.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

// Clone копирует организацию вместе со списком воркспейсов.
func (o *Org) Clone() *Org {
	if o == nil {
		return nil
	}
	cp := *o
	cp.WorkspaceIDs = append([]string(nil), o.WorkspaceIDs...)
	return &cp
}

// Clone возвращает независимую копию воркспейса.
func (w *Workspace) Clone() *Workspace {
	if w == nil {
		return nil
	}
	cp := *w
	return &cp
}

// AuthContext — результат резолва bearer-токена. Все операции реестра и
// леджера исполняются только внутри этого контекста.
type AuthContext struct {
	User      *User
	Org       *Org
	Workspace *Workspace
}

// IdentitySnapshot — то, что отдаём наружу после логина и в /v1/me.
type IdentitySnapshot struct {
	User      *User      `json:"user"`
	Org       *Org       `json:"org"`
	Workspace *Workspace `json:"workspace"`
}

// Snapshot собирает сериализуемый срез контекста.
func (a *AuthContext) Snapshot() IdentitySnapshot {
	return IdentitySnapshot{User: a.User, Org: a.Org, Workspace: a.Workspace}
}
