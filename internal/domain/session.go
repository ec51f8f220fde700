package domain

import "time"

// Статусы State Machine сессии.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionTerminated SessionStatus = "terminated"
)

// Terminal: из терминального статуса переходов нет — в том числе sweep
// не имеет права перевести completed/failed в terminated.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionTerminated
}

// Valid проверяет, что статус вообще входит в словарь.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionCompleted, SessionFailed, SessionTerminated:
		return true
	}
	return false
}

// CanTransitionTo проверяет правила конечного автомата:
// единственный источник переходов — active.
func (s SessionStatus) CanTransitionTo(next SessionStatus) error {
	if !next.Valid() || next == SessionActive {
		return NewError(CodeInvalidRequest, "unknown target session status")
	}
	if s != SessionActive {
		return NewError(CodeInvalidTransition, "session already reached a terminal status")
	}
	return nil
}

// ApprovalMode определяет, как исполняется permission grant:
// auto — молча, approve — только после внешнего человеческого подтверждения.
// Ядро фиксирует режим, но не реализует сам approval-workflow.
type ApprovalMode string

const (
	ApprovalAuto    ApprovalMode = "auto"
	ApprovalApprove ApprovalMode = "approve"
)

// PermissionGrant — одно разрешение сессии, паттерн вида "github:comment:acme/*".
type PermissionGrant struct {
	Permission  string       `json:"permission"`
	Mode        ApprovalMode `json:"mode"`
	Delegatable bool         `json:"delegatable"` // Может ли суб-агент унаследовать грант
}

// BudgetCounter — пара used/limit одного ресурса.
type BudgetCounter struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// Remaining возвращает неизрасходованный остаток (не меньше нуля).
func (c BudgetCounter) Remaining() int64 {
	if c.Used >= c.Limit {
		return 0
	}
	return c.Limit - c.Used
}

// Budget — три независимых счётчика потребления сессии.
type Budget struct {
	CostCents       BudgetCounter `json:"costCents"` // Минорные единицы валюты
	DurationSeconds BudgetCounter `json:"durationSeconds"`
	Actions         BudgetCounter `json:"actions"`
	// Exhausted взводится ингестом usage, когда любой из лимитов пробит.
	Exhausted bool `json:"exhausted"`
}

// AgentRef описывает исполняемого агента.
type AgentRef struct {
	ID         string `json:"id"`      // Например, "acme/reviewer"
	Version    string `json:"version"` // "latest", если не указана через "@"
	InstanceID string `json:"instanceId"`
}

// ParentRef — кто породил сессию: человек или другой агент.
type ParentRef struct {
	Type string `json:"type"` // "human" | "agent"
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Task — что агенту поручено сделать.
type Task struct {
	Description string         `json:"description"`
	Input       map[string]any `json:"input,omitempty"`
}

// Sandbox — дескриптор исполнения, который получит (внешний) провижининг.
type Sandbox struct {
	Image      string    `json:"image"`
	WorkDir    string    `json:"workDir"`
	ExpiresAt  time.Time `json:"expiresAt"` // TTL сессии; после него sweep терминирует
	Entrypoint string    `json:"entrypoint"`
	Env        []string  `json:"env"` // Имена переменных окружения к инъекции
}

// Session — запись об одном запуске агента. Физически не удаляется,
// только переводится в терминальный статус.
type Session struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Status      SessionStatus     `json:"status"`
	OrgID       string            `json:"orgId"`
	WorkspaceID string            `json:"workspaceId"`
	Agent       AgentRef          `json:"agent"`
	Parent      ParentRef         `json:"parent"`
	Task        Task              `json:"task"`
	Budget      Budget            `json:"budget"`
	Permissions []PermissionGrant `json:"permissions"`
	Actions     []string          `json:"actions"` // Разрешённые имена действий
	Sandbox     Sandbox           `json:"sandbox"`
}

// Clone делает глубокую копию сессии. Наружу из-под лока стора уходят
// только такие снапшоты: живой указатель продолжает мутироваться свипом
// и ингестом usage параллельно с JSON-сериализацией ответа.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Permissions = append([]PermissionGrant(nil), s.Permissions...)
	cp.Actions = append([]string(nil), s.Actions...)
	cp.Sandbox.Env = append([]string(nil), s.Sandbox.Env...)
	if s.Task.Input != nil {
		cp.Task.Input = make(map[string]any, len(s.Task.Input))
		for k, v := range s.Task.Input {
			cp.Task.Input[k] = v
		}
	}
	return &cp
}

// Bootstrap — hand-off контракт для провижининга песочницы: окружение,
// которое должен получить контейнер, и срок жизни его session-токена.
type Bootstrap struct {
	Env                   map[string]string `json:"env"`
	SessionTokenExpiresAt time.Time         `json:"sessionTokenExpiresAt"`
}

// BudgetRequest — лимиты из запроса создания. Каждый дефолтится независимо.
type BudgetRequest struct {
	CostLimitCents       *int64 `json:"costLimitCents,omitempty"`
	DurationLimitSeconds *int64 `json:"durationLimitSeconds,omitempty"`
	ActionLimit          *int64 `json:"actionLimit,omitempty"`
}

// CreateSessionRequest — вход операции создания сессии.
type CreateSessionRequest struct {
	Agent       string         `json:"agent"`
	Task        *Task          `json:"task,omitempty"`
	Budget      *BudgetRequest `json:"budget,omitempty"`
	WorkspaceID string         `json:"workspaceId,omitempty"`
}

// UsageDelta — отчёт песочницы о потреблении. Все значения неотрицательные.
type UsageDelta struct {
	CostCents       int64 `json:"costCents"`
	DurationSeconds int64 `json:"durationSeconds"`
	Actions         int64 `json:"actions"`
}
